// Package store persists document records in memory or in SQLite.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"policyqa/internal/config"
	"policyqa/internal/domain"
)

// MemoryStore implements domain.DocumentStore with a mutex-guarded map.
// Records are lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	docs  map[string]*domain.Document
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*domain.Document)}
}

func (s *MemoryStore) Insert(_ context.Context, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("insert document %s: duplicate id", doc.ID)
	}
	s.docs[doc.ID] = &doc
	s.order = append(s.order, doc.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Document, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.docs[id])
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(doc *domain.Document) error) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *doc
	if err := fn(&cp); err != nil {
		return nil, err
	}
	*doc = cp
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return false, nil
	}
	delete(s.docs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Handle bundles the opened store with its optional SQL database.
type Handle struct {
	Documents domain.DocumentStore
	SQLite    *SQLiteStore // nil for the memory driver
}

func (h *Handle) Close() error {
	if h.SQLite != nil {
		return h.SQLite.Close()
	}
	return nil
}

// Open builds the document store selected by cfg.Driver.
func Open(cfg config.StorageConfig, logger *slog.Logger) (*Handle, error) {
	switch cfg.Driver {
	case "memory":
		return &Handle{Documents: NewMemoryStore()}, nil
	case "sqlite":
		s, err := OpenSQLite(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		return &Handle{Documents: s, SQLite: s}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

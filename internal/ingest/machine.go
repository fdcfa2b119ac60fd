// Package ingest owns the document lifecycle: upload acceptance, the status
// state machine and deletion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"policyqa/internal/domain"
	"policyqa/internal/metrics"
)

// FileUpload is one file offered for ingestion.
type FileUpload struct {
	Filename string
	Size     int64 // declared size, -1 when unknown
	Content  io.Reader
}

// InterruptedMessage is the error recorded for documents whose processing
// was cut short by a restart and cannot be resumed.
const InterruptedMessage = "interrupted"

// MachineConfig configures a Machine.
type MachineConfig struct {
	Store       domain.DocumentStore
	Files       *FileStore
	Index       domain.KnowledgeIndex // optional; chunks are dropped on delete
	MaxFileSize int64
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	Now   func() time.Time // defaults to time.Now
	NewID func() string    // defaults to uuid.NewString
}

// Machine validates uploads and enforces the status transition table.
// All record mutations go through DocumentStore.Update so concurrent writers
// to one id are serialized.
type Machine struct {
	store   domain.DocumentStore
	files   *FileStore
	index   domain.KnowledgeIndex
	maxSize int64
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewMachine(cfg MachineConfig) *Machine {
	m := &Machine{
		store:   cfg.Store,
		files:   cfg.Files,
		index:   cfg.Index,
		maxSize: cfg.MaxFileSize,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
	if m.maxSize <= 0 {
		m.maxSize = 10 << 20
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// MaxFileSize is the per-file upload limit in bytes.
func (m *Machine) MaxFileSize() int64 { return m.maxSize }

// Create validates and stores an upload, returning a new document in the
// uploading stage. On any validation failure nothing is persisted.
func (m *Machine) Create(ctx context.Context, up FileUpload) (*domain.Document, error) {
	if _, err := Validate(up.Filename, up.Size, m.maxSize, nil); err != nil {
		m.recordRejection(err)
		return nil, err
	}

	id := m.newID()
	saved, err := m.files.Save(id, up.Filename, up.Content, m.maxSize)
	if err != nil {
		m.recordRejection(err)
		return nil, err
	}

	kind, err := Validate(up.Filename, saved.Size, m.maxSize, saved.Head)
	if err != nil {
		m.files.Remove(saved.Path)
		m.recordRejection(err)
		return nil, err
	}

	now := m.now().UTC()
	doc := domain.Document{
		ID:          id,
		Filename:    up.Filename,
		Size:        saved.Size,
		Kind:        kind,
		UploadedAt:  now,
		UpdatedAt:   now,
		Status:      domain.StatusUploading,
		StoragePath: saved.Path,
	}
	if err := m.store.Insert(ctx, doc); err != nil {
		m.files.Remove(saved.Path)
		m.metrics.RecordUpload("failed")
		return nil, fmt.Errorf("create document: %w", err)
	}

	m.metrics.RecordUpload("accepted")
	m.metrics.RecordTransition("", doc.Status.String())
	m.logger.Info("document accepted", "id", id, "filename", up.Filename, "size", saved.Size, "kind", kind)
	return &doc, nil
}

// Precheck validates an upload without storing anything, so a batch can be
// rejected before any of its files is accepted.
func (m *Machine) Precheck(filename string, size int64, head []byte) error {
	if _, err := Validate(filename, size, m.maxSize, head); err != nil {
		m.recordRejection(err)
		return err
	}
	return nil
}

func (m *Machine) recordRejection(err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		m.metrics.RecordUpload("rejected_" + string(ve.Reason))
		m.logger.Info("upload rejected", "filename", ve.Filename, "reason", ve.Reason)
		return
	}
	m.metrics.RecordUpload("failed")
	m.logger.Warn("upload failed", "err", err)
}

// Advance moves a document to next. A non-empty errMsg forces the error
// status regardless of next. Entering ready sets progress to 100; any other
// stage keeps progress within 0..99.
func (m *Machine) Advance(ctx context.Context, id string, next domain.Status, progress *int, errMsg string) (*domain.Document, error) {
	if errMsg != "" {
		next = domain.StatusError
	}

	var from domain.Status
	doc, err := m.store.Update(ctx, id, func(d *domain.Document) error {
		from = d.Status
		if !d.Status.CanTransition(next) {
			return &domain.TransitionError{ID: id, From: d.Status, To: next}
		}
		d.Status = next
		d.UpdatedAt = m.now().UTC()
		if progress != nil {
			d.Progress = *progress
		}
		switch next {
		case domain.StatusReady:
			d.Progress = 100
		case domain.StatusError:
			if errMsg == "" {
				errMsg = "processing failed"
			}
			d.Error = errMsg
			d.Progress = clampProgress(d.Progress)
		default:
			d.Progress = clampProgress(d.Progress)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			m.logger.Warn("transition rejected", "id", id, "from", from, "to", next)
		}
		return nil, err
	}

	m.metrics.RecordTransition(from.String(), next.String())
	m.logger.Debug("status advanced", "id", id, "from", from, "to", next, "progress", doc.Progress)
	if next == domain.StatusError {
		m.logger.Warn("document failed", "id", id, "err", doc.Error)
	}
	return doc, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 99 {
		return 99
	}
	return p
}

// Fail forces a document into the error status. Documents that already
// reached a terminal status are left untouched.
func (m *Machine) Fail(ctx context.Context, id string, cause error) (*domain.Document, error) {
	msg := "processing failed"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	doc, err := m.Advance(ctx, id, domain.StatusError, nil, msg)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return m.store.Get(ctx, id)
	}
	return doc, err
}

// RecordStats stores page and chunk counts without changing status.
func (m *Machine) RecordStats(ctx context.Context, id string, pages, chunks int) error {
	_, err := m.store.Update(ctx, id, func(d *domain.Document) error {
		if pages > 0 {
			d.Pages = pages
		}
		d.ChunksCount = chunks
		d.UpdatedAt = m.now().UTC()
		return nil
	})
	return err
}

func (m *Machine) Get(ctx context.Context, id string) (*domain.Document, error) {
	return m.store.Get(ctx, id)
}

// List returns every document in upload order.
func (m *Machine) List(ctx context.Context) ([]domain.Document, error) {
	return m.store.List(ctx)
}

// Delete removes a document, its stored file and its indexed chunks.
// Deleting an absent id succeeds.
func (m *Machine) Delete(ctx context.Context, id string) error {
	doc, err := m.store.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	removed, err := m.store.Delete(ctx, id)
	if err != nil {
		return err
	}

	if m.index != nil {
		if err := m.index.DeleteDocument(ctx, id); err != nil {
			m.logger.Warn("failed to drop indexed chunks", "id", id, "err", err)
		}
	}
	if doc != nil {
		if err := m.files.Remove(doc.StoragePath); err != nil {
			m.logger.Warn("failed to remove stored file", "id", id, "err", err)
		}
	}
	if removed && doc != nil {
		m.metrics.RecordRemoval(doc.Status.String())
		m.logger.Info("document deleted", "id", id, "filename", doc.Filename)
	}
	return nil
}

// Recover inspects documents left non-terminal by a previous process.
// Documents still in uploading whose file survived are returned for
// re-queueing. Documents caught mid-pipeline cannot re-enter earlier stages
// and are failed with InterruptedMessage, as are uploads whose file is gone.
func (m *Machine) Recover(ctx context.Context) ([]string, error) {
	docs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var requeue []string
	for _, d := range docs {
		m.metrics.SeedStatus(d.Status.String())
		if d.Status.Terminal() {
			continue
		}
		if d.Status == domain.StatusUploading && m.files.Exists(d.StoragePath) {
			requeue = append(requeue, d.ID)
			continue
		}
		if _, err := m.Advance(ctx, d.ID, domain.StatusError, nil, InterruptedMessage); err != nil {
			m.logger.Warn("recovery failed", "id", d.ID, "err", err)
			continue
		}
		m.logger.Info("interrupted document marked failed", "id", d.ID, "status", d.Status)
	}
	return requeue, nil
}

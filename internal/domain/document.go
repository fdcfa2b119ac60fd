package domain

import (
	"context"
	"time"
)

// Kind is the accepted content category of an upload.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindText Kind = "text"
)

// Document is an uploaded policy file tracked through the ingestion pipeline.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	Kind        Kind      `json:"kind"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress,omitempty"`
	Error       string    `json:"error,omitempty"`
	ChunksCount int       `json:"chunks_count"`
	Pages       int       `json:"pages,omitempty"`
	StoragePath string    `json:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatusReport is the body of GET /documents/{id}/status.
type StatusReport struct {
	DocumentID  string    `json:"document_id"`
	Filename    string    `json:"filename"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress,omitempty"`
	ChunksCount int       `json:"chunks_count"`
	Error       string    `json:"error,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	Size        int64     `json:"size"`
}

// Report builds the status snapshot served to polling clients.
func (d *Document) Report() StatusReport {
	return StatusReport{
		DocumentID:  d.ID,
		Filename:    d.Filename,
		Status:      d.Status,
		Progress:    d.Progress,
		ChunksCount: d.ChunksCount,
		Error:       d.Error,
		UploadedAt:  d.UploadedAt,
		Size:        d.Size,
	}
}

// DocumentStore persists document records.
//
// Update must run fn as an atomic read-modify-write of the single record id;
// if fn returns an error nothing is written.
type DocumentStore interface {
	Insert(ctx context.Context, doc Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]Document, error)
	Update(ctx context.Context, id string, fn func(doc *Document) error) (*Document, error)
	Delete(ctx context.Context, id string) (bool, error)
}

package domain

import "context"

// Chunk is a retrievable slice of a document's text.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Index      int    `json:"chunk_index"`
	Page       int    `json:"page,omitempty"` // 1-based, 0 when unknown
	Content    string `json:"content"`
	WordCount  int    `json:"word_count"`
	CharCount  int    `json:"char_count"`
}

// SearchResult is a ranked chunk returned by a KnowledgeIndex.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// KnowledgeIndex stores chunks and ranks them against a query.
type KnowledgeIndex interface {
	// AddChunks indexes all chunks of one document, replacing earlier ones.
	AddChunks(ctx context.Context, documentID string, chunks []Chunk) error

	// Search returns at most topK chunks restricted to the given documents.
	// An empty documentIDs slice searches everything.
	Search(ctx context.Context, query string, topK int, documentIDs []string) ([]SearchResult, error)

	// DeleteDocument removes every chunk of the document. Absent ids are not an error.
	DeleteDocument(ctx context.Context, documentID string) error

	// Count returns the number of indexed chunks.
	Count(ctx context.Context) (int, error)
}

package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"policyqa/internal/domain"
)

// SQLiteIndex stores chunks in document_chunks and ranks them with the
// chunks_fts FTS5 table. Schema is created by store.RunMigrations.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

func (i *SQLiteIndex) AddChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add chunks: %w", err)
	}
	defer tx.Rollback()

	if err := deleteChunks(ctx, tx, documentID); err != nil {
		return err
	}
	for _, c := range chunks {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, document_id, filename, chunk_index, page, content, word_count, char_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, documentID, c.Filename, c.Index, c.Page, c.Content, c.WordCount, c.CharCount,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (rowid, content) VALUES (?, ?)`, seq, c.Content); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// deleteChunks removes a document's rows from both tables. External-content
// FTS5 tables need the original content to drop their entries.
func deleteChunks(ctx context.Context, tx *sql.Tx, documentID string) error {
	rows, err := tx.QueryContext(ctx, `SELECT seq, content FROM document_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	type row struct {
		seq     int64
		content string
	}
	var existing []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.content); err != nil {
			rows.Close()
			return err
		}
		existing = append(existing, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range existing {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (chunks_fts, rowid, content) VALUES ('delete', ?, ?)`, r.seq, r.content,
		); err != nil {
			return fmt.Errorf("unindex chunk: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (i *SQLiteIndex) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete chunks: %w", err)
	}
	defer tx.Rollback()
	if err := deleteChunks(ctx, tx, documentID); err != nil {
		return err
	}
	return tx.Commit()
}

func (i *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&n)
	return n, err
}

func (i *SQLiteIndex) Search(ctx context.Context, query string, topK int, documentIDs []string) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	q := `SELECT c.id, c.document_id, c.filename, c.chunk_index, c.page, c.content, c.word_count, c.char_count,
			bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN document_chunks c ON c.seq = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if len(documentIDs) > 0 {
		q += ` AND c.document_id IN (?` + strings.Repeat(", ?", len(documentIDs)-1) + `)`
		for _, id := range documentIDs {
			args = append(args, id)
		}
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, topK)

	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			c    domain.Chunk
			rank float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Filename, &c.Index, &c.Page, &c.Content,
			&c.WordCount, &c.CharCount, &rank); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better and negative for matches.
		results = append(results, domain.SearchResult{Chunk: c, Score: -rank})
	}
	return results, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR query of quoted tokens so user
// input never hits FTS5 syntax.
func ftsQuery(text string) string {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

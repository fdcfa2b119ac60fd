package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the raw bytes of accepted uploads on disk.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (f *FileStore) Dir() string { return f.dir }

// savedFile is the outcome of a successful Save.
type savedFile struct {
	Path string
	Size int64
	Head []byte
}

// Save streams r into <dir>/<id><ext>, reading at most maxSize+1 bytes.
// Oversized or empty content is removed and reported as a validation error.
func (f *FileStore) Save(id, filename string, r io.Reader, maxSize int64) (*savedFile, error) {
	path := filepath.Join(f.dir, id+strings.ToLower(filepath.Ext(filename)))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	head := &headWriter{limit: SniffLen}
	written, err := io.Copy(io.MultiWriter(out, head), io.LimitReader(r, maxSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write file: %w", err)
	}
	if written > maxSize {
		os.Remove(path)
		return nil, sizeError(filename, maxSize)
	}
	return &savedFile{Path: path, Size: written, Head: head.buf}, nil
}

// Remove deletes a stored file. Missing files are not an error.
func (f *FileStore) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a stored file is still present.
func (f *FileStore) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// headWriter captures the first limit bytes written to it.
type headWriter struct {
	buf   []byte
	limit int
}

func (h *headWriter) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"policyqa/internal/domain"
	"policyqa/internal/ingest"
	"policyqa/internal/rag"
)

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, code int, msg string) {
	writeJSON(rw, code, map[string]any{"success": false, "error": msg})
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(rw http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		writeError(rw, http.StatusBadRequest, ve.Error())
	case errors.As(err, &mbe):
		writeError(rw, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
	case errors.Is(err, domain.ErrNotFound):
		writeError(rw, http.StatusNotFound, "Document not found")
	case errors.Is(err, rag.ErrEmptyQuestion), errors.Is(err, rag.ErrNoDocuments):
		writeError(rw, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotReady):
		writeError(rw, http.StatusFailedDependency, "Chat service is not ready: "+err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(rw, http.StatusGatewayTimeout, "request timed out")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(rw, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"message":   "Insurance Policy Q&A API is running",
		"status":    "healthy",
		"host":      s.host,
		"port":      s.port,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "RAG API",
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Format(time.RFC3339),
		"config": map[string]any{
			"host":            s.host,
			"port":            s.port,
			"has_documents":   s.rag != nil && s.rag.HasDocuments(r.Context()),
			"rag_initialized": s.rag != nil && s.rag.Initialized(),
		},
	})
}

func (s *Server) handlePing(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"message":         "pong",
		"rag_initialized": s.rag != nil && s.rag.Initialized(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

type uploadedDocument struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Size     int64         `json:"size"`
	Status   domain.Status `json:"status"`
}

// handleUpload accepts multipart "files". Every file is validated before the
// first one is stored, so a request either creates all documents or none.
func (s *Server) handleUpload(rw http.ResponseWriter, r *http.Request) {
	limit := int64(s.maxFiles)*s.machine.MaxFileSize() + 1<<20
	r.Body = http.MaxBytesReader(rw, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.fail(rw, r, err)
			return
		}
		writeError(rw, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(rw, http.StatusBadRequest, "no files uploaded")
		return
	}
	if len(files) > s.maxFiles {
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("too many files: %d, at most %d per request", len(files), s.maxFiles))
		return
	}

	for _, fh := range files {
		head, err := readHead(fh)
		if err != nil {
			s.fail(rw, r, fmt.Errorf("read %s: %w", fh.Filename, err))
			return
		}
		if err := s.machine.Precheck(fh.Filename, fh.Size, head); err != nil {
			s.fail(rw, r, err)
			return
		}
	}

	ctx := r.Context()
	docs := make([]*domain.Document, 0, len(files))
	for _, fh := range files {
		doc, err := s.create(ctx, fh)
		if err != nil {
			for _, d := range docs {
				if derr := s.machine.Delete(context.WithoutCancel(ctx), d.ID); derr != nil {
					s.logger.Error("failed to roll back accepted document", "id", d.ID, "err", derr)
				}
			}
			s.fail(rw, r, err)
			return
		}
		docs = append(docs, doc)
	}

	out := make([]uploadedDocument, 0, len(docs))
	for _, doc := range docs {
		if err := s.pipeline.Enqueue(ctx, doc.ID); err != nil {
			s.logger.Error("failed to queue document", "id", doc.ID, "err", err)
			if failed, ferr := s.machine.Fail(context.WithoutCancel(ctx), doc.ID, fmt.Errorf("could not queue for processing: %w", err)); ferr == nil {
				doc = failed
			}
		}
		out = append(out, uploadedDocument{ID: doc.ID, Filename: doc.Filename, Size: doc.Size, Status: doc.Status})
	}

	writeJSON(rw, http.StatusOK, map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("Successfully uploaded %d document(s). Processing in background.", len(out)),
		"documents": out,
	})
}

func (s *Server) create(ctx context.Context, fh *multipart.FileHeader) (*domain.Document, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return s.machine.Create(ctx, ingest.FileUpload{Filename: fh.Filename, Size: fh.Size, Content: f})
}

func readHead(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, ingest.SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}

func (s *Server) handleListDocuments(rw http.ResponseWriter, r *http.Request) {
	docs, err := s.machine.List(r.Context())
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	doc, err := s.machine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, doc.Report())
}

func (s *Server) handleDelete(rw http.ResponseWriter, r *http.Request) {
	if err := s.machine.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(rw http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.fail(rw, r, rag.ErrEmptyQuestion)
		return
	}
	if s.rag == nil {
		s.fail(rw, r, rag.ErrNoProvider)
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ans, err := s.rag.Ask(ctx, req.Message, req.SessionID)
	if err != nil {
		s.fail(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"success": true,
		"answer":  ans.Text,
		"sources": ans.Sources,
	})
}

func (s *Server) handleClearSession(rw http.ResponseWriter, r *http.Request) {
	if s.rag != nil {
		s.rag.ClearSession(r.PathValue("id"))
	}
	writeJSON(rw, http.StatusOK, map[string]string{"message": "Session cleared"})
}

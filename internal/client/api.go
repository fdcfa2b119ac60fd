// Package client talks to the policyqa server and keeps a local,
// eventually consistent view of uploaded documents.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"policyqa/internal/domain"
)

// APIError is a 4xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// UploadedDocument is one entry of an upload response.
type UploadedDocument struct {
	ID       string        `json:"id"`
	Filename string        `json:"filename"`
	Size     int64         `json:"size"`
	Status   domain.Status `json:"status"`
}

// API is a thin JSON client for the server's HTTP surface.
// Transport failures and 5xx answers wrap domain.ErrNetwork; 404 wraps
// domain.ErrNotFound; other 4xx answers are *APIError.
type API struct {
	base   string
	client *http.Client
}

func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &API{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *API) BaseURL() string { return a.base }

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := errorMessage(resp.Body)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: %s %s: %d %s", domain.ErrNetwork, method, path, resp.StatusCode, msg)
		default:
			return &APIError{StatusCode: resp.StatusCode, Message: msg}
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func errorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(data))
}

// Status fetches the status snapshot of one document.
func (a *API) Status(ctx context.Context, id string) (*domain.StatusReport, error) {
	var rep domain.StatusReport
	if err := a.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(id)+"/status", nil, "", &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (a *API) List(ctx context.Context) ([]domain.Document, error) {
	var out struct {
		Documents []domain.Document `json:"documents"`
	}
	if err := a.do(ctx, http.MethodGet, "/documents", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func (a *API) Delete(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/documents/"+url.PathEscape(id), nil, "", nil)
}

// Upload sends the files at paths in one multipart request.
func (a *API) Upload(ctx context.Context, paths []string) ([]UploadedDocument, error) {
	body := &bytes.Buffer{}
	mp := multipart.NewWriter(body)
	for _, p := range paths {
		if err := addFile(mp, p); err != nil {
			return nil, err
		}
	}
	if err := mp.Close(); err != nil {
		return nil, err
	}

	var out struct {
		Success   bool               `json:"success"`
		Message   string             `json:"message"`
		Documents []UploadedDocument `json:"documents"`
	}
	if err := a.do(ctx, http.MethodPost, "/upload", body, mp.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

func addFile(mp *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	w, err := mp.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Ask poses a question within a chat session.
func (a *API) Ask(ctx context.Context, message, sessionID string) (*domain.Answer, error) {
	data, err := json.Marshal(map[string]string{"message": message, "session_id": sessionID})
	if err != nil {
		return nil, err
	}
	var out struct {
		Success bool            `json:"success"`
		Answer  string          `json:"answer"`
		Sources []domain.Source `json:"sources"`
	}
	if err := a.do(ctx, http.MethodPost, "/chat", bytes.NewReader(data), "application/json", &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, errors.New("chat request was not successful")
	}
	return &domain.Answer{Text: out.Answer, Sources: out.Sources}, nil
}

func (a *API) ClearSession(ctx context.Context, sessionID string) error {
	return a.do(ctx, http.MethodDelete, "/chat/sessions/"+url.PathEscape(sessionID), nil, "", nil)
}

// Health returns the server's /health body.
func (a *API) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := a.do(ctx, http.MethodGet, "/health", nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

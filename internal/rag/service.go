// Package rag answers questions about indexed policy documents with an LLM.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"policyqa/internal/domain"
	"policyqa/internal/metrics"
)

var (
	ErrEmptyQuestion = errors.New("empty query not allowed")
	ErrNoDocuments   = fmt.Errorf("%w: no documents available, upload documents first", domain.ErrNotReady)
	ErrNoProvider    = fmt.Errorf("%w: no language model configured", domain.ErrNotReady)
)

const (
	contextualizePrompt = "Given a chat history and the latest user question which might reference context in the chat history, " +
		"formulate a standalone question which can be understood without the chat history. " +
		"Do NOT answer the question, just reformulate it."

	answerPrompt = "You are an assistant for question-answering tasks about insurance policies. " +
		"Use the following pieces of retrieved context to answer the question. " +
		"If you don't know the answer, just say that you don't know. " +
		"Use three sentences maximum and keep the answer concise.\n\n%s"

	previewLen = 200
	noAnswer   = "No answer generated."
)

// DocumentLister lists document records; only ready ones are searched.
type DocumentLister interface {
	List(ctx context.Context) ([]domain.Document, error)
}

type Config struct {
	Provider    domain.Provider // nil disables answering
	Index       domain.KnowledgeIndex
	Documents   DocumentLister
	Sessions    *Sessions
	TopK        int
	MaxTokens   int
	Temperature float64
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Service struct {
	provider    domain.Provider
	index       domain.KnowledgeIndex
	documents   DocumentLister
	sessions    *Sessions
	topK        int
	maxTokens   int
	temperature float64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewService(cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessions(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		provider:    cfg.Provider,
		index:       cfg.Index,
		documents:   cfg.Documents,
		sessions:    cfg.Sessions,
		topK:        cfg.TopK,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Initialized reports whether a language model is configured.
func (s *Service) Initialized() bool { return s.provider != nil }

// HasDocuments reports whether at least one document is ready to search.
func (s *Service) HasDocuments(ctx context.Context) bool {
	ids, err := s.readyIDs(ctx)
	return err == nil && len(ids) > 0
}

func (s *Service) readyIDs(ctx context.Context) ([]string, error) {
	docs, err := s.documents.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var ids []string
	for _, d := range docs {
		if d.Status == domain.StatusReady {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}

// ClearSession forgets a conversation. It reports whether one existed.
func (s *Service) ClearSession(id string) bool {
	ok := s.sessions.Clear(id)
	if ok {
		s.logger.Info("chat session cleared", "session", id)
	}
	return ok
}

// Ask answers question within a session, citing the chunks it retrieved.
func (s *Service) Ask(ctx context.Context, question, sessionID string) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		s.metrics.RecordChat("rejected")
		return nil, ErrEmptyQuestion
	}
	if sessionID == "" {
		sessionID = DefaultSession
	}

	ids, err := s.readyIDs(ctx)
	if err != nil {
		s.metrics.RecordChat("error")
		return nil, err
	}
	if len(ids) == 0 {
		s.metrics.RecordChat("not_ready")
		return nil, ErrNoDocuments
	}
	if s.provider == nil {
		s.metrics.RecordChat("not_ready")
		return nil, ErrNoProvider
	}

	answer, err := s.answer(ctx, question, sessionID, ids)
	if err != nil {
		s.metrics.RecordChat("error")
		s.logger.Error("chat failed", "session", sessionID, "err", err)
		return nil, err
	}
	s.metrics.RecordChat("answered")
	return answer, nil
}

func (s *Service) answer(ctx context.Context, question, sessionID string, ids []string) (*domain.Answer, error) {
	history := s.sessions.History(sessionID)

	standalone := question
	if len(history) > 0 {
		msgs := []domain.Message{{Role: "system", Content: contextualizePrompt}}
		msgs = append(msgs, historyMessages(history)...)
		msgs = append(msgs, domain.Message{Role: "user", Content: question})
		resp, err := s.chat(ctx, msgs)
		if err != nil {
			return nil, fmt.Errorf("contextualize question: %w", err)
		}
		if q := strings.TrimSpace(resp.Content); q != "" {
			standalone = q
		}
		s.logger.Debug("question contextualized", "session", sessionID, "question", standalone)
	}

	results, err := s.index.Search(ctx, standalone, s.topK, ids)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	contents := make([]string, len(results))
	for i, r := range results {
		contents[i] = r.Chunk.Content
	}
	msgs := []domain.Message{{Role: "system", Content: fmt.Sprintf(answerPrompt, strings.Join(contents, "\n\n"))}}
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, domain.Message{Role: "user", Content: standalone})

	resp, err := s.chat(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		text = noAnswer
	}

	s.sessions.Append(sessionID, Exchange{Question: standalone, Answer: text})
	s.logger.Info("question answered", "session", sessionID, "sources", len(results), "tokens", resp.Usage.TotalTokens)
	return &domain.Answer{Text: text, Sources: Sources(results)}, nil
}

func (s *Service) chat(ctx context.Context, msgs []domain.Message) (*domain.ChatResponse, error) {
	start := time.Now()
	resp, err := s.provider.Chat(ctx, domain.ChatRequest{
		Messages:    msgs,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	})
	s.metrics.RecordLLM(s.provider.Name(), time.Since(start))
	return resp, err
}

func historyMessages(history []Exchange) []domain.Message {
	msgs := make([]domain.Message, 0, 2*len(history))
	for _, ex := range history {
		msgs = append(msgs,
			domain.Message{Role: "user", Content: ex.Question},
			domain.Message{Role: "assistant", Content: ex.Answer},
		)
	}
	return msgs
}

// Sources converts search hits into citations with a short content preview.
func Sources(results []domain.SearchResult) []domain.Source {
	out := make([]domain.Source, 0, len(results))
	for i, r := range results {
		src := domain.Source{
			ID:             strconv.Itoa(i),
			DocumentName:   r.Chunk.Filename,
			Content:        preview(r.Chunk.Content),
			RelevanceScore: r.Score,
		}
		if src.DocumentName == "" {
			src.DocumentName = "Unknown"
		}
		if r.Chunk.Page > 0 {
			page := r.Chunk.Page
			src.Page = &page
		}
		out = append(out, src)
	}
	return out
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}

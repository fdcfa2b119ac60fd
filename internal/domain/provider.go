package domain

import "context"

// Provider is the interface LLM backends implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	FinishReason string // stop | length
	Usage        Usage
	LatencyMs    int64
}

type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Source is a citation returned with a chat answer.
type Source struct {
	ID             string  `json:"id"`
	DocumentName   string  `json:"documentName"`
	Content        string  `json:"content"`
	Page           *int    `json:"page,omitempty"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Answer is the result of one RAG question.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}

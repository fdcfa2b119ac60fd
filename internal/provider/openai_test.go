package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"policyqa/internal/config"
	"policyqa/internal/domain"
)

func init() {
	backoffUnit = time.Millisecond
}

func TestOpenAI_Chat(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<think>hmm</think>\nDeductible is $500."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{Name: "groq", APIKey: "sk-test", APIBase: srv.URL + "/", Model: "qwen/qwen3-32b", Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:    []domain.Message{{Role: "system", Content: "ctx"}, {Role: "user", Content: "deductible?"}},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Deductible is $500." {
		t.Fatalf("think block should be stripped, got %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Fatalf("usage not decoded: %+v", resp.Usage)
	}
	if got.Model != "qwen/qwen3-32b" || len(got.Messages) != 2 || got.MaxTokens != 64 {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Fatalf("temperature not sent: %v", got.Temperature)
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third call, got %q after %d calls", resp.Content, calls.Load())
	}
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{Name: "groq", APIKey: "bad", APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "groq 401") {
		t.Fatalf("expected groq 401 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestOpenAI_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	if _, err := p.Chat(context.Background(), domain.ChatRequest{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, calls.Load())
	}
}

func TestOpenAI_HealthyWithoutKey(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{Logger: testLogger()})
	if err := p.Healthy(context.Background()); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestFactory_Build(t *testing.T) {
	cfg := config.LLMConfig{
		FailoverChain: []string{"groq", "openai"},
		Providers: map[string]config.ProviderConfig{
			"groq":   {Enabled: true, APIKey: "g"},
			"openai": {Enabled: true, APIKey: "o"},
			"local":  {Enabled: false, APIKey: "l"},
		},
	}
	f := NewFactory(cfg, testLogger())
	if got := strings.Join(f.Usable(), ","); got != "groq,openai" {
		t.Fatalf("Usable = %q", got)
	}
	p := f.Build()
	if p == nil || p.Name() != "failover(groq,openai)" {
		t.Fatalf("unexpected provider %v", p)
	}
}

func TestFactory_BuildSingleAndNone(t *testing.T) {
	cfg := config.LLMConfig{
		FailoverChain: []string{"groq", "openai"},
		Providers: map[string]config.ProviderConfig{
			"groq":   {Enabled: true, APIKey: "g"},
			"openai": {Enabled: true},
		},
	}
	if p := NewFactory(cfg, testLogger()).Build(); p == nil || p.Name() != "groq" {
		t.Fatalf("expected bare groq provider, got %v", p)
	}

	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true}
	if p := NewFactory(cfg, testLogger()).Build(); p != nil {
		t.Fatalf("expected nil provider without keys, got %s", p.Name())
	}
}

func TestFactory_Register(t *testing.T) {
	cfg := config.LLMConfig{Providers: map[string]config.ProviderConfig{"stub": {Enabled: true, APIKey: "x"}}}
	f := NewFactory(cfg, testLogger())
	f.Register("stub", func(name string, _ config.ProviderConfig, _ *slog.Logger) domain.Provider {
		return &mockProvider{name: "custom-" + name}
	})
	if p := f.Build(); p == nil || p.Name() != "custom-stub" {
		t.Fatalf("registered constructor not used: %v", p)
	}
}

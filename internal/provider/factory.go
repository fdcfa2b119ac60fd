package provider

import (
	"log/slog"
	"sort"
	"time"

	"policyqa/internal/config"
	"policyqa/internal/domain"
)

// Constructor builds a provider from its config entry.
type Constructor func(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider

// openAICompatible covers groq, openai and any other entry with an API base.
func openAICompatible(name string, pc config.ProviderConfig, logger *slog.Logger) domain.Provider {
	return NewOpenAI(OpenAIConfig{
		Name:    name,
		APIKey:  pc.APIKey,
		APIBase: pc.APIBase,
		Model:   pc.DefaultModel,
		Timeout: time.Duration(pc.TimeoutSecs) * time.Second,
		Logger:  logger,
	})
}

// Factory turns the llm config section into a provider chain.
type Factory struct {
	cfg          config.LLMConfig
	logger       *slog.Logger
	constructors map[string]Constructor
}

func NewFactory(cfg config.LLMConfig, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger, constructors: make(map[string]Constructor)}
}

// Register overrides the constructor used for a provider name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

// Usable returns the names of enabled providers that have an API key, in
// failover order. Providers missing from the chain follow in name order.
func (f *Factory) Usable() []string {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		pc, ok := f.cfg.Providers[name]
		if !ok || !pc.Enabled || pc.APIKey == "" {
			return
		}
		names = append(names, name)
	}
	for _, name := range f.cfg.FailoverChain {
		add(name)
	}
	rest := make([]string, 0, len(f.cfg.Providers))
	for name := range f.cfg.Providers {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	for _, name := range rest {
		add(name)
	}
	return names
}

// Build returns a provider for the usable entries, or nil when none is
// configured. A single entry is used directly; several are wrapped in a
// FailoverProvider. The result is rate limited when llm.ratePerMinute is set.
func (f *Factory) Build() domain.Provider {
	p := f.build()
	if p == nil || f.cfg.RatePerMinute <= 0 {
		return p
	}
	return NewRateLimited(p, NewRateLimiter(f.cfg.RateBurst, f.cfg.RatePerMinute))
}

func (f *Factory) build() domain.Provider {
	var chain []domain.Provider
	for _, name := range f.Usable() {
		ctor, ok := f.constructors[name]
		if !ok {
			ctor = openAICompatible
		}
		chain = append(chain, ctor(name, f.cfg.Providers[name], f.logger))
	}
	switch len(chain) {
	case 0:
		f.logger.Warn("no llm provider configured, chat is disabled")
		return nil
	case 1:
		f.logger.Info("llm provider configured", "provider", chain[0].Name())
		return chain[0]
	default:
		fp := NewFailoverProvider(chain, f.logger)
		f.logger.Info("llm provider configured", "provider", fp.Name())
		return fp
	}
}

package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:   "~/.policyqa",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8000,
			CORSOrigins:           []string{"http://localhost:3000"},
			RequestTimeoutSeconds: 120,
		},
		Upload: UploadConfig{
			Dir:         "~/.policyqa/uploads",
			MaxFileSize: 10 << 20, // 10 MiB
			MaxFiles:    20,
		},
		Pipeline: PipelineConfig{
			Workers:             2,
			QueueSize:           100,
			StageTimeoutSeconds: 600,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DBPath: "~/.policyqa/policyqa.db",
		},
		Knowledge: KnowledgeConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			SearchTopK:   5,
		},
		LLM: LLMConfig{
			FailoverChain: []string{"groq", "openai"},
			Providers: map[string]ProviderConfig{
				"groq": {
					Enabled:      true,
					APIBase:      "https://api.groq.com/openai/v1",
					DefaultModel: "qwen/qwen3-32b",
				},
				"openai": {
					Enabled:      false,
					APIBase:      "https://api.openai.com/v1",
					DefaultModel: "gpt-4o-mini",
				},
			},
			MaxTokens:     1024,
			Temperature:   0.2,
			MaxHistory:    10,
			MaxSessions:   1000,
			RatePerMinute: 30,
			RateBurst:     10,
		},
		Client: ClientConfig{
			ServerURL:        "http://localhost:8000",
			PollIntervalSecs: 10,
			PollMaxAttempts:  30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

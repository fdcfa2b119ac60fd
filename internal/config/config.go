package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for policyqa.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Upload    UploadConfig    `json:"upload" yaml:"upload"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Knowledge KnowledgeConfig `json:"knowledge" yaml:"knowledge"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Client    ClientConfig    `json:"client" yaml:"client"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir" yaml:"dataDir"`
	LogLevel  string `json:"logLevel" yaml:"logLevel"`   // debug | info | warn | error
	LogFormat string `json:"logFormat" yaml:"logFormat"` // text | json
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	CORSOrigins []string `json:"corsOrigins" yaml:"corsOrigins"`
	// RequestTimeoutSeconds bounds non-upload handlers; 0 disables the limit.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds" yaml:"requestTimeoutSeconds"`
}

type UploadConfig struct {
	Dir         string `json:"dir" yaml:"dir"`
	MaxFileSize int64  `json:"maxFileSize" yaml:"maxFileSize"` // bytes
	MaxFiles    int    `json:"maxFiles" yaml:"maxFiles"`      // per request
}

type PipelineConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queueSize" yaml:"queueSize"`
	// StageTimeoutSeconds caps a single document's processing run.
	StageTimeoutSeconds int `json:"stageTimeoutSeconds" yaml:"stageTimeoutSeconds"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite | memory
	DBPath string `json:"dbPath" yaml:"dbPath"`
}

// KnowledgeConfig configures chunking and retrieval.
type KnowledgeConfig struct {
	ChunkSize    int `json:"chunkSize" yaml:"chunkSize"`       // characters per chunk
	ChunkOverlap int `json:"chunkOverlap" yaml:"chunkOverlap"` // overlapping characters
	SearchTopK   int `json:"searchTopK" yaml:"searchTopK"`
}

// LLMConfig configures the answering providers. Providers are tried in
// FailoverChain order; entries without an API key are skipped.
type LLMConfig struct {
	FailoverChain []string                  `json:"failoverChain" yaml:"failoverChain"`
	Providers     map[string]ProviderConfig `json:"providers" yaml:"providers"`
	MaxTokens     int                       `json:"maxTokens" yaml:"maxTokens"`
	Temperature   float64                   `json:"temperature" yaml:"temperature"`
	MaxHistory    int                       `json:"maxHistory" yaml:"maxHistory"`   // exchanges kept per session
	MaxSessions   int                       `json:"maxSessions" yaml:"maxSessions"` // least recently used are evicted
	// RatePerMinute throttles model calls across the whole chain; 0 disables.
	RatePerMinute float64 `json:"ratePerMinute" yaml:"ratePerMinute"`
	RateBurst     int     `json:"rateBurst" yaml:"rateBurst"`
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	APIBase      string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	TimeoutSecs  int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

// ClientConfig configures the CLI client and its status poller.
type ClientConfig struct {
	ServerURL        string `json:"serverUrl" yaml:"serverUrl"`
	PollIntervalSecs int    `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	PollMaxAttempts  int    `json:"pollMaxAttempts" yaml:"pollMaxAttempts"`
	MarkStalled      bool   `json:"markStalled" yaml:"markStalled"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.policyqa).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".policyqa"
	}
	return filepath.Join(home, ".policyqa")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// isYAML reports whether path should be decoded as YAML instead of JSON.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	expandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadRaw decodes path over the defaults exactly as written: ${VAR}
// references, ~ paths and secrets stay out of the result unless the file
// holds them. Use it when the config is going to be saved back.
func LoadRaw(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve returns a validated copy of a raw config with environment
// variables substituted, env overrides applied and paths expanded. The
// input is left untouched.
func Resolve(raw *Config) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := json.Unmarshal([]byte(ExpandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot expand config: %w", err)
	}
	ApplyEnv(cfg)
	expandPaths(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// LoadOrDefaults loads path, falling back to defaults (with env overrides)
// when the file does not exist.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		ApplyEnv(cfg)
		expandPaths(cfg)
		if err := Validate(cfg); err != nil {
			return nil, false, fmt.Errorf("config validation: %w", err)
		}
		return cfg, false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnv overlays well-known environment variables on cfg.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		setProviderKey(cfg, "groq", v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		setProviderKey(cfg, "openai", v)
	}
	if v := os.Getenv("POLICYQA_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("POLICYQA_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("POLICYQA_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.CORSOrigins = origins
	}
	if v := os.Getenv("POLICYQA_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Upload.MaxFileSize = n
		}
	}
	if v := os.Getenv("POLICYQA_UPLOAD_DIR"); v != "" {
		cfg.Upload.Dir = v
	}
	if v := os.Getenv("POLICYQA_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("POLICYQA_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
}

func setProviderKey(cfg *Config, name, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]ProviderConfig)
	}
	pc := cfg.LLM.Providers[name]
	pc.APIKey = key
	pc.Enabled = true
	cfg.LLM.Providers[name] = pc
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RequestTimeoutSeconds < 0 {
		errs = append(errs, "server.requestTimeoutSeconds must be >= 0")
	}

	if cfg.Upload.Dir == "" {
		errs = append(errs, "upload.dir is required")
	}
	if cfg.Upload.MaxFileSize < 1 {
		errs = append(errs, "upload.maxFileSize must be >= 1")
	}
	if cfg.Upload.MaxFiles < 1 {
		errs = append(errs, "upload.maxFiles must be >= 1")
	}

	if cfg.Pipeline.Workers < 1 || cfg.Pipeline.Workers > 64 {
		errs = append(errs, "pipeline.workers must be between 1 and 64")
	}
	if cfg.Pipeline.QueueSize < 1 {
		errs = append(errs, "pipeline.queueSize must be >= 1")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite":
		if cfg.Storage.DBPath == "" {
			errs = append(errs, "storage.dbPath is required for the sqlite driver")
		}
	default:
		errs = append(errs, "storage.driver must be one of: sqlite, memory")
	}

	if cfg.Knowledge.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than chunkSize")
	}
	if cfg.Knowledge.SearchTopK < 1 {
		errs = append(errs, "knowledge.searchTopK must be >= 1")
	}

	for _, name := range cfg.LLM.FailoverChain {
		if _, ok := cfg.LLM.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("llm.failoverChain references unknown provider: %s", name))
		}
	}
	if cfg.LLM.MaxHistory < 0 {
		errs = append(errs, "llm.maxHistory must be >= 0")
	}
	if cfg.LLM.MaxSessions < 0 {
		errs = append(errs, "llm.maxSessions must be >= 0")
	}
	if cfg.LLM.RatePerMinute < 0 || cfg.LLM.RateBurst < 0 {
		errs = append(errs, "llm.ratePerMinute and llm.rateBurst must be >= 0")
	}

	if cfg.Client.PollIntervalSecs < 1 {
		errs = append(errs, "client.pollIntervalSeconds must be >= 1")
	}
	if cfg.Client.PollMaxAttempts < 1 {
		errs = append(errs, "client.pollMaxAttempts must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func expandPaths(cfg *Config) {
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Upload.Dir = ExpandPath(cfg.Upload.Dir)
	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

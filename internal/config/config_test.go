package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_Workers_Boundary(t *testing.T) {
	cfg := Defaults()

	cfg.Pipeline.Workers = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("workers=1 should be valid: %v", err)
	}

	cfg.Pipeline.Workers = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for workers=0")
	}
}

func TestValidate_ChunkOverlapMustBeSmallerThanSize(t *testing.T) {
	cfg := Defaults()
	cfg.Knowledge.ChunkOverlap = cfg.Knowledge.ChunkSize
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for overlap == chunk size")
	}
}

func TestValidate_StorageDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Driver = "postgres"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}

	cfg.Storage.Driver = "memory"
	cfg.Storage.DBPath = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("memory driver needs no dbPath: %v", err)
	}
}

func TestValidate_UnknownFailoverProvider(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.FailoverChain = []string{"groq", "mystery"}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Fatalf("expected failover error naming provider, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Upload.MaxFileSize = 0
	cfg.Client.PollMaxAttempts = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"upload.maxFileSize", "client.pollMaxAttempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %s", err, want)
		}
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Pipeline.Workers = 7

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Pipeline.Workers != 7 {
		t.Fatalf("expected 7 workers, got %d", loaded.Pipeline.Workers)
	}
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := Defaults()
	original.Server.Port = 9001
	original.Server.CORSOrigins = []string{"https://app.example.com"}
	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "{") {
		t.Fatalf("expected YAML output, got:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", loaded.Server.Port)
	}
	if len(loaded.Server.CORSOrigins) != 1 || loaded.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", loaded.Server.CORSOrigins)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	os.WriteFile(path, []byte("server:\n  port: 8123\n"), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Fatalf("expected port 8123, got %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxFileSize != 10<<20 {
		t.Fatalf("expected default max file size, got %d", cfg.Upload.MaxFileSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"pipeline": {"workers": 0}}`), 0o644)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "pipeline.workers") {
		t.Fatalf("expected workers validation error, got %v", err)
	}
}

func TestLoadOrDefaults_MissingFile(t *testing.T) {
	cfg, found, err := LoadOrDefaults(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test-key-12345")
	t.Setenv("POLICYQA_PORT", "9100")
	t.Setenv("POLICYQA_CORS_ORIGINS", "http://a.test, http://b.test")

	cfg := Defaults()
	ApplyEnv(cfg)

	if cfg.LLM.Providers["groq"].APIKey != "gsk-test-key-12345" {
		t.Fatal("groq key not applied")
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("expected port 9100, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "storage.driver")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "sqlite" {
		t.Fatalf("expected 'sqlite', got %v", val)
	}

	val, err = GetByPath(cfg, "server.corsOrigins.0")
	if err != nil {
		t.Fatalf("get array element: %v", err)
	}
	if val != "http://localhost:3000" {
		t.Fatalf("unexpected origin %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "storage.driver", "memory"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected 'memory', got %q", cfg.Storage.Driver)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "metrics.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "client.pollMaxAttempts", "50"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Client.PollMaxAttempts != 50 {
		t.Fatalf("expected 50, got %d", cfg.Client.PollMaxAttempts)
	}
}

func TestSetByPath_ListAndFloat(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "server.corsOrigins", "http://a.test, http://b.test"); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if err := SetByPath(cfg, "llm.temperature", "0.7"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Fatalf("expected 0.7, got %v", cfg.LLM.Temperature)
	}
}

func TestSetByPath_Rejects(t *testing.T) {
	cases := map[string][2]string{
		"unknown key":   {"server.listen", "x"},
		"unknown group": {"cache.size", "1"},
		"section":       {"server", "x"},
		"bad bool":      {"metrics.enabled", "sometimes"},
		"bad number":    {"server.port", "eighty"},
	}
	for name, c := range cases {
		if err := SetByPath(Defaults(), c[0], c[1]); err == nil {
			t.Errorf("%s: expected error for %s=%s", name, c[0], c[1])
		}
	}
}

func TestSetByPath_NewProvider(t *testing.T) {
	cfg := Defaults()
	for path, val := range map[string]string{
		"llm.providers.mistral.apiBase":        "https://api.mistral.ai/v1",
		"llm.providers.mistral.apiKey":         "12345678901234",
		"llm.providers.mistral.enabled":        "true",
		"llm.providers.mistral.timeoutSeconds": "30",
	} {
		if err := SetByPath(cfg, path, val); err != nil {
			t.Fatalf("set %s: %v", path, err)
		}
	}
	p := cfg.LLM.Providers["mistral"]
	if !p.Enabled || p.APIKey != "12345678901234" || p.TimeoutSecs != 30 || p.APIBase == "" {
		t.Fatalf("unexpected provider %+v", p)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	groq := cfg.LLM.Providers["groq"]
	groq.APIKey = "gsk-1234567890abcdef"
	cfg.LLM.Providers["groq"] = groq

	sanitized := Sanitize(cfg)
	got := sanitized.LLM.Providers["groq"].APIKey
	if got != "gsk-****cdef" {
		t.Fatalf("expected masked key, got %q", got)
	}
	if cfg.LLM.Providers["groq"].APIKey != "gsk-1234567890abcdef" {
		t.Fatal("original config must not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers["openai"] = ProviderConfig{APIKey: "short"}
	sanitized := Sanitize(cfg)
	if sanitized.LLM.Providers["openai"].APIKey != "***" {
		t.Fatalf("expected '***', got %q", sanitized.LLM.Providers["openai"].APIKey)
	}
}

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	paths := ListPaths(Defaults())
	for _, want := range []string{"server.port", "upload.maxFileSize", "knowledge.chunkSize", "client.pollIntervalSeconds"} {
		if _, ok := paths[want]; !ok {
			t.Errorf("missing path %s", want)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("MY_PORT", "9090")
	result := ExpandEnvVars(`{"port": "${MY_PORT:-8080}"}`)
	expected := `{"port": "9090"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	if result := ExpandEnvVars(input); result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_POLICYQA_UPLOADS", "/tmp/test-uploads")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{"upload": {"dir": "${TEST_POLICYQA_UPLOADS}", "maxFileSize": 1024, "maxFiles": 3}}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Upload.Dir != "/tmp/test-uploads" {
		t.Fatalf("expected dir '/tmp/test-uploads', got %q", cfg.Upload.Dir)
	}
	if cfg.Upload.MaxFileSize != 1024 {
		t.Fatalf("expected 1024, got %d", cfg.Upload.MaxFileSize)
	}
}

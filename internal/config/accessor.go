package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

// tree renders cfg as the generic JSON map the accessors walk.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	return strings.Split(path, "."), nil
}

// GetByPath retrieves a config value by dot-notation path, e.g.
// "server.port" or "server.corsOrigins.0".
func GetByPath(cfg *Config, path string) (any, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}

	var node any = m
	for i, key := range parts {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config key %q", strings.Join(parts[:i+1], "."))
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid index %q in %s", key, path)
			}
			node = v[idx]
		default:
			return nil, fmt.Errorf("%s is a %T and has no key %q", strings.Join(parts[:i], "."), node, key)
		}
	}
	return node, nil
}

// SetByPath sets a leaf value by dot-notation path. String input is
// converted to the type of the current value; lists take comma-separated
// items. Unknown keys are rejected, except new entries under llm.providers.
func SetByPath(cfg *Config, path string, value any) error {
	parts, err := splitPath(path)
	if err != nil {
		return err
	}
	m, err := tree(cfg)
	if err != nil {
		return err
	}

	parent := m
	for i, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			if !strings.HasPrefix(strings.Join(parts[:i+1], "."), "llm.providers.") {
				return fmt.Errorf("unknown config key %q", strings.Join(parts[:i+1], "."))
			}
			child = map[string]any{}
			parent[key] = child
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a section", strings.Join(parts[:i+1], "."))
		}
		parent = next
	}

	leaf := parts[len(parts)-1]
	current, exists := parent[leaf]
	if !exists && !strings.HasPrefix(path, "llm.providers.") {
		return fmt.Errorf("unknown config key %q", path)
	}
	if _, isSection := current.(map[string]any); isSection {
		return fmt.Errorf("%s is a section, set one of its keys instead", path)
	}
	converted, err := coerce(current, value, leaf)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[leaf] = converted

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// coerce converts v to the JSON kind of current. Non-string input passes
// through unchanged.
func coerce(current, v any, leaf string) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", s)
		}
		return b, nil
	case float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	case []any:
		items := []any{}
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	case nil:
		// Omitted provider fields have no current value.
		switch leaf {
		case "enabled":
			return coerce(false, s, leaf)
		case "timeoutSeconds":
			return coerce(float64(0), s, leaf)
		}
	}
	return s, nil
}

// Sanitize returns a copy of the config with API keys masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.LLM.FailoverChain = append([]string(nil), cfg.LLM.FailoverChain...)
	out.LLM.Providers = maps.Clone(cfg.LLM.Providers)
	for name, prov := range out.LLM.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
			out.LLM.Providers[name] = prov
		}
	}
	return &out
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dot paths mapped to leaf values. Lists are
// kept whole.
func ListPaths(cfg *Config) map[string]any {
	m, err := tree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if sub, ok := v.(map[string]any); ok {
				walk(path, sub)
				continue
			}
			out[path] = v
		}
	}
	walk("", m)
	return out
}

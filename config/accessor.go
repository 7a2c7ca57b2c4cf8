package config

import (
	"context"
	"strings"
)

// Accessor is a read-only key lookup over the layered configuration.
// Keys are dotted paths (e.g. "aiProvider.primary", "aiProvider.openai").
// The second return value reports whether the key resolved to a value.
type Accessor interface {
	Get(ctx context.Context, key string) (any, bool)
}

// Manager owns the loaded configuration and implements Accessor.
type Manager struct {
	cfg *Config
}

// NewManager wraps an already-built Config. Intended for tests; production
// code goes through Load.
func NewManager(cfg *Config) *Manager {
	if cfg.AIProvider == nil {
		cfg.AIProvider = map[string]any{}
	}
	return &Manager{cfg: cfg}
}

// Config returns the typed configuration.
func (m *Manager) Config() *Config {
	return m.cfg
}

// Get resolves a dotted key. The aiProvider tree is served from the raw
// YAML section; intermediate map nodes are returned as sub-objects.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	parts := strings.Split(key, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, false
	}

	var node any
	switch parts[0] {
	case "aiProvider":
		node = anyMap(m.cfg.AIProvider)
	case "server":
		node = map[string]any{
			"port":           m.cfg.Server.Port,
			"metricsEnabled": m.cfg.Server.MetricsEnabled,
		}
	case "storage":
		node = map[string]any{"type": m.cfg.Storage.Type}
	case "cache":
		node = map[string]any{"type": m.cfg.Cache.Type, "ttl": m.cfg.Cache.TTL}
	default:
		return nil, false
	}

	for _, part := range parts[1:] {
		mp, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		child, ok := mp[part]
		if !ok {
			return nil, false
		}
		node = normalize(child)
	}
	return node, true
}

// GetString resolves a key and returns its string value, or "" when the
// key is absent or not a string.
func (m *Manager) GetString(ctx context.Context, key string) string {
	v, ok := m.Get(ctx, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// anyMap shallow-copies so callers cannot mutate the backing config.
func anyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// normalize converts yaml.v3's map[any]any nodes into map[string]any so
// dotted traversal works regardless of how the tree was produced.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out
	default:
		return v
	}
}

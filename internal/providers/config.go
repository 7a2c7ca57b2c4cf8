package providers

import (
	"context"
	"os"

	"github.com/chengjon/taskmaster-pro-sub002/config"
	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// Configuration keys for role bindings and provider options.
const (
	keyPrimary       = "aiProvider.primary"
	keyFallback      = "aiProvider.fallback"
	optionsKeyPrefix = "aiProvider."
)

// deriveConfig builds a fresh ProviderConfig for a cache miss: API key from
// the <UPPERCASE_NAME>_API_KEY environment variable, options from the
// accessor's aiProvider.<name> sub-object. The requested name is carried
// through with its original casing.
func deriveConfig(ctx context.Context, accessor config.Accessor, name string) core.ProviderConfig {
	cfg := core.ProviderConfig{
		Name:   name,
		APIKey: os.Getenv(apiKeyEnvName(name)),
	}

	if v, ok := accessor.Get(ctx, optionsKeyPrefix+normalizeName(name)); ok {
		if opts, ok := v.(map[string]any); ok {
			cfg.Options = opts
		}
	}

	return cfg
}

// roleBinding reads a role key (aiProvider.primary / aiProvider.fallback)
// and returns the bound provider name, or "" when unset.
func roleBinding(ctx context.Context, accessor config.Accessor, key string) string {
	v, ok := accessor.Get(ctx, key)
	if !ok {
		return ""
	}
	name, _ := v.(string)
	return name
}

// Package core defines the provider capability contract and shared types
// for the task service.
package core

import (
	"context"
	"encoding/json"
)

// ProviderConfig is the configuration handed to a provider's Initialize.
// It is derived fresh on every factory cache miss and never reused.
type ProviderConfig struct {
	// Name is the provider name as originally requested (casing preserved).
	Name string

	// APIKey is read from the <UPPERCASE_NAME>_API_KEY environment variable.
	// Empty is a valid state; providers that require a key reject it in
	// Initialize.
	APIKey string

	// Options holds provider-specific settings from the configuration
	// accessor (the aiProvider.<name> section). May be nil.
	Options map[string]any
}

// StringOption returns the string value for key in Options, or def when the
// key is absent or not a string.
func (c ProviderConfig) StringOption(key, def string) string {
	if c.Options == nil {
		return def
	}
	if s, ok := c.Options[key].(string); ok && s != "" {
		return s
	}
	return def
}

// Usage reports token consumption for a single generation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateRequest is a text generation request.
type GenerateRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// GenerateResult is the outcome of a text generation call.
type GenerateResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// ObjectRequest asks a provider for a structured JSON object. Schema is an
// informal JSON-schema-ish description forwarded to the vendor where
// supported and embedded in the prompt otherwise.
type ObjectRequest struct {
	Model       string          `json:"model,omitempty"`
	Prompt      string          `json:"prompt"`
	System      string          `json:"system,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

// ObjectResult is the outcome of a structured generation call.
type ObjectResult struct {
	Object json.RawMessage `json:"object"`
	Usage  Usage           `json:"usage"`
}

// TextStream is a finite, non-restartable sequence of text chunks.
// Next returns io.EOF after the final chunk. Callers must Close.
type TextStream interface {
	Next() (string, error)
	Close() error
}

// Provider is the capability contract every backend must satisfy.
// Instances are constructed uninitialized; Initialize must succeed before
// any generation call.
type Provider interface {
	// Initialize prepares the provider with its derived configuration.
	// It may suspend (network validation, key checks) and must fail if
	// required configuration is missing.
	Initialize(ctx context.Context, cfg ProviderConfig) error

	// GenerateText executes a single text generation request.
	GenerateText(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// GenerateObject executes a structured-object generation request.
	GenerateObject(ctx context.Context, req *ObjectRequest) (*ObjectResult, error)

	// StreamText starts a streaming generation. The returned stream is
	// finite and cannot be restarted.
	StreamText(ctx context.Context, req *GenerateRequest) (TextStream, error)

	// IsConfigured reports whether the provider has everything it needs
	// to serve requests. Pure introspection, no I/O.
	IsConfigured() bool

	// RequiredAPIKeyName returns the environment variable this provider
	// sources its key from. Pure introspection.
	RequiredAPIKeyName() string
}

// Constructor produces a new, uninitialized provider instance.
type Constructor func() Provider

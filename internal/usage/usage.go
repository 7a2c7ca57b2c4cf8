// Package usage records per-generation token consumption.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
)

// Operation names recorded with each entry.
const (
	OpGenerateText   = "generate_text"
	OpGenerateObject = "generate_object"
	OpStreamText     = "stream_text"
)

// Record is one generation's token usage.
type Record struct {
	ID               string    `json:"id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	Operation        string    `json:"operation"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store is the persistence contract for usage records. Implementations
// live in internal/storage.
type Store interface {
	InsertUsage(ctx context.Context, rec *Record) error
}

// Recorder writes usage records through a Store. Failures are logged, not
// propagated; usage tracking must never fail a generation request.
type Recorder struct {
	store   Store
	enabled bool
}

// NewRecorder creates a recorder. A nil store or enabled=false yields a
// noop recorder.
func NewRecorder(store Store, enabled bool) *Recorder {
	return &Recorder{store: store, enabled: enabled && store != nil}
}

// Enabled reports whether records are being written.
func (r *Recorder) Enabled() bool {
	return r.enabled
}

// Record persists one usage entry.
func (r *Recorder) Record(ctx context.Context, provider, model, operation string, u core.Usage) {
	if !r.enabled {
		return
	}

	rec := &Record{
		ID:               uuid.NewString(),
		Provider:         provider,
		Model:            model,
		Operation:        operation,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CreatedAt:        time.Now().UTC(),
	}

	if err := r.store.InsertUsage(ctx, rec); err != nil {
		slog.Warn("failed to record usage",
			"provider", provider,
			"operation", operation,
			"error", err,
		)
	}
}

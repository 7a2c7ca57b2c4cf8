// Package server provides the HTTP API for the task service.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chengjon/taskmaster-pro-sub002/internal/cache"
	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers"
	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
	"github.com/chengjon/taskmaster-pro-sub002/internal/usage"
)

// Handler holds the HTTP handlers and their collaborators.
type Handler struct {
	providers *providers.Service
	tasks     *tasks.Service
	cache     cache.Cache
	usage     *usage.Recorder
}

// NewHandler creates a handler. cache may be nil to disable response
// caching.
func NewHandler(prov *providers.Service, taskSvc *tasks.Service, respCache cache.Cache, recorder *usage.Recorder) *Handler {
	if recorder == nil {
		recorder = usage.NewRecorder(nil, false)
	}
	return &Handler{
		providers: prov,
		tasks:     taskSvc,
		cache:     respCache,
		usage:     recorder,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListProviders handles GET /v1/providers.
func (h *Handler) ListProviders(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, map[string]any{
		"providers": h.providers.ListAvailableProviders(),
		"primary":   h.providers.PrimaryName(ctx),
		"fallback":  h.providers.FallbackName(ctx),
	})
}

// ProviderStatus handles GET /v1/providers/:name/status.
func (h *Handler) ProviderStatus(c echo.Context) error {
	name := c.Param("name")
	st := h.providers.Status(c.Request().Context(), name)
	if !st.Registered {
		return handleError(c, &core.UnknownProviderError{Name: name})
	}
	return c.JSON(http.StatusOK, st)
}

// generateRequest is the body for the generation endpoints.
type generateRequest struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	NoCache     bool    `json:"no_cache,omitempty"`
}

func (r *generateRequest) toCore() *core.GenerateRequest {
	return &core.GenerateRequest{
		Model:       r.Model,
		Prompt:      r.Prompt,
		System:      r.System,
		MaxTokens:   r.MaxTokens,
		Temperature: r.Temperature,
	}
}

func (r *generateRequest) cacheKey() string {
	return cache.Key(r.Provider, r.Model, r.Prompt, r.System,
		strconv.Itoa(r.MaxTokens), strconv.FormatFloat(r.Temperature, 'g', -1, 64))
}

type generateResponse struct {
	Provider string     `json:"provider"`
	Text     string     `json:"text"`
	Usage    core.Usage `json:"usage"`
	Cached   bool       `json:"cached,omitempty"`
}

// resolveProvider resolves the named provider, or the primary when name is
// empty, and returns the resolved binding name for bookkeeping.
func (h *Handler) resolveProvider(c echo.Context, name string) (core.Provider, string, error) {
	ctx := c.Request().Context()
	if name == "" {
		p, err := h.providers.GetPrimaryProvider(ctx)
		if err != nil {
			providerResolutions.WithLabelValues("failure").Inc()
			return nil, "", err
		}
		providerResolutions.WithLabelValues("success").Inc()
		return p, h.providers.PrimaryName(ctx), nil
	}

	p, err := h.providers.GetProvider(ctx, name)
	if err != nil {
		providerResolutions.WithLabelValues("failure").Inc()
		return nil, "", err
	}
	providerResolutions.WithLabelValues("success").Inc()
	return p, name, nil
}

// Generate handles POST /v1/generate.
func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Prompt == "" {
		return handleError(c, core.NewInvalidRequestError("prompt is required", nil))
	}

	ctx := c.Request().Context()

	var key string
	if h.cache != nil && !req.NoCache {
		key = req.cacheKey()
		if data, ok, err := h.cache.Get(ctx, key); err == nil && ok {
			cacheLookups.WithLabelValues("hit").Inc()
			var resp generateResponse
			if err := json.Unmarshal(data, &resp); err == nil {
				resp.Cached = true
				return c.JSON(http.StatusOK, resp)
			}
		} else {
			cacheLookups.WithLabelValues("miss").Inc()
		}
	}

	provider, name, err := h.resolveProvider(c, req.Provider)
	if err != nil {
		return handleError(c, err)
	}

	result, err := provider.GenerateText(ctx, req.toCore())
	if err != nil {
		generationRequests.WithLabelValues(name, usage.OpGenerateText, "failure").Inc()
		return handleError(c, err)
	}
	generationRequests.WithLabelValues(name, usage.OpGenerateText, "success").Inc()
	h.usage.Record(ctx, name, req.Model, usage.OpGenerateText, result.Usage)

	resp := generateResponse{Provider: name, Text: result.Text, Usage: result.Usage}

	if h.cache != nil && key != "" {
		if data, err := json.Marshal(resp); err == nil {
			if err := h.cache.Set(ctx, key, data); err != nil {
				slog.Warn("failed to cache generation response", "error", err)
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// GenerateStream handles POST /v1/generate/stream, relaying provider chunks
// as server-sent events.
func (h *Handler) GenerateStream(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	if req.Prompt == "" {
		return handleError(c, core.NewInvalidRequestError("prompt is required", nil))
	}

	ctx := c.Request().Context()

	provider, name, err := h.resolveProvider(c, req.Provider)
	if err != nil {
		return handleError(c, err)
	}

	stream, err := provider.StreamText(ctx, req.toCore())
	if err != nil {
		generationRequests.WithLabelValues(name, usage.OpStreamText, "failure").Inc()
		return handleError(c, err)
	}
	defer stream.Close()

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	enc := json.NewEncoder(c.Response())
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Headers are sent, signal the failure in-band.
			writeSSE(c, enc, map[string]any{"error": err.Error()})
			generationRequests.WithLabelValues(name, usage.OpStreamText, "failure").Inc()
			return nil
		}
		if err := writeSSE(c, enc, map[string]any{"text": chunk}); err != nil {
			return nil
		}
	}

	generationRequests.WithLabelValues(name, usage.OpStreamText, "success").Inc()
	writeSSE(c, enc, map[string]any{"done": true})
	return nil
}

func writeSSE(c echo.Context, enc *json.Encoder, payload map[string]any) error {
	if _, err := c.Response().Write([]byte("data: ")); err != nil {
		return err
	}
	if err := enc.Encode(payload); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n")); err != nil {
		return err
	}
	c.Response().Flush()
	return nil
}

// CreateTask handles POST /v1/tasks.
func (h *Handler) CreateTask(c echo.Context) error {
	var in tasks.CreateInput
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	task, err := h.tasks.Create(c.Request().Context(), in)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

// GetTask handles GET /v1/tasks/:id.
func (h *Handler) GetTask(c echo.Context) error {
	task, err := h.tasks.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// ListTasks handles GET /v1/tasks.
func (h *Handler) ListTasks(c echo.Context) error {
	filter := tasks.Filter{
		Status:    tasks.Status(c.QueryParam("status")),
		ProjectID: c.QueryParam("project_id"),
	}
	list, err := h.tasks.List(c.Request().Context(), filter)
	if err != nil {
		return handleError(c, err)
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": list})
}

// UpdateTask handles PATCH /v1/tasks/:id.
func (h *Handler) UpdateTask(c echo.Context) error {
	var in tasks.UpdateInput
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	task, err := h.tasks.Update(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// DeleteTask handles DELETE /v1/tasks/:id.
func (h *Handler) DeleteTask(c echo.Context) error {
	if err := h.tasks.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type subtaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// AddSubTask handles POST /v1/tasks/:id/subtasks.
func (h *Handler) AddSubTask(c echo.Context) error {
	var in subtaskRequest
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	task, err := h.tasks.AddSubTask(c.Request().Context(), c.Param("id"), in.Title, in.Description)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, task)
}

type expandRequest struct {
	Count int `json:"count,omitempty"`
}

// ExpandTask handles POST /v1/tasks/:id/expand.
func (h *Handler) ExpandTask(c echo.Context) error {
	var in expandRequest
	if err := c.Bind(&in); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}
	task, err := h.tasks.Expand(c.Request().Context(), c.Param("id"), in.Count)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// handleError converts domain errors to HTTP responses.
func handleError(c echo.Context, err error) error {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		return c.JSON(apiErr.HTTPStatusCode(), apiErr.ToJSON())
	}

	var unknown *core.UnknownProviderError
	if errors.As(err, &unknown) {
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"type":    "not_found_error",
				"message": unknown.Error(),
			},
		})
	}

	var noPrimary *core.NoPrimaryProviderError
	if errors.As(err, &noPrimary) {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{
				"type":    "configuration_error",
				"message": noPrimary.Error(),
			},
		})
	}

	if errors.Is(err, tasks.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"type":    "not_found_error",
				"message": "task not found",
			},
		})
	}

	slog.Error("unhandled request error", "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

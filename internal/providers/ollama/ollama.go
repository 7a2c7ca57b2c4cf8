// Package ollama implements the provider capability contract against a
// local Ollama server. No API key is required.
package ollama

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
	"github.com/chengjon/taskmaster-pro-sub002/internal/llmclient"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers"
)

// Registration wires the provider into the registry at startup.
var Registration = providers.Registration{
	Name: "ollama",
	New:  func() core.Provider { return &Provider{} },
}

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
	apiKeyEnv      = "OLLAMA_API_KEY"
)

// Provider implements core.Provider for Ollama.
type Provider struct {
	client      *llmclient.Client
	model       string
	initialized bool
}

// Initialize prepares the HTTP client. Ollama runs keyless; a missing API
// key is fine.
func (p *Provider) Initialize(ctx context.Context, cfg core.ProviderConfig) error {
	p.model = cfg.StringOption("model", defaultModel)
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "ollama",
		BaseURL:      cfg.StringOption("baseUrl", defaultBaseURL),
	}, nil)
	p.initialized = true
	return nil
}

// IsConfigured reports whether Initialize ran.
func (p *Provider) IsConfigured() bool {
	return p.initialized
}

// RequiredAPIKeyName returns the conventional env var name even though no
// key is required; introspection parity with keyed providers.
func (p *Provider) RequiredAPIKeyName() string {
	return apiKeyEnv
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *Provider) buildRequest(model, system, prompt string, maxTokens int, temperature float64) generateRequest {
	if model == "" {
		model = p.model
	}
	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		System: system,
	}
	opts := map[string]any{}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	if temperature > 0 {
		opts["temperature"] = temperature
	}
	if len(opts) > 0 {
		req.Options = opts
	}
	return req
}

func usageFrom(resp *generateResponse) core.Usage {
	return core.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}

// GenerateText executes a non-streaming generate call.
func (p *Provider) GenerateText(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResult, error) {
	body := p.buildRequest(req.Model, req.System, req.Prompt, req.MaxTokens, req.Temperature)

	var resp generateResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/generate",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &core.GenerateResult{
		Text:  resp.Response,
		Usage: usageFrom(&resp),
	}, nil
}

// GenerateObject executes a generate call in JSON format mode.
func (p *Provider) GenerateObject(ctx context.Context, req *core.ObjectRequest) (*core.ObjectResult, error) {
	prompt := req.Prompt
	if len(req.Schema) > 0 {
		prompt += "\nRespond with a single JSON object matching this schema:\n" + string(req.Schema)
	}

	body := p.buildRequest(req.Model, req.System, prompt, req.MaxTokens, req.Temperature)
	body.Format = "json"

	var resp generateResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/generate",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if !json.Valid([]byte(resp.Response)) {
		return nil, core.NewProviderError("ollama", http.StatusBadGateway, "response was not valid JSON", nil)
	}

	return &core.ObjectResult{
		Object: json.RawMessage(resp.Response),
		Usage:  usageFrom(&resp),
	}, nil
}

// StreamText starts a streaming generate call and relays NDJSON chunks.
func (p *Provider) StreamText(ctx context.Context, req *core.GenerateRequest) (core.TextStream, error) {
	body := p.buildRequest(req.Model, req.System, req.Prompt, req.MaxTokens, req.Temperature)
	body.Stream = true

	rc, err := p.client.Stream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/api/generate",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	return llmclient.NewTextStream(rc, func(line string) (string, bool, error) {
		chunk := gjson.Get(line, "response").String()
		if gjson.Get(line, "done").Bool() {
			// The final NDJSON object can still carry text.
			if chunk != "" {
				return chunk, false, nil
			}
			return "", true, nil
		}
		return chunk, false, nil
	}), nil
}

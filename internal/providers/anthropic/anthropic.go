// Package anthropic implements the provider capability contract against
// the Anthropic messages API.
package anthropic

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
	Name: "anthropic",
	New:  func() core.Provider { return &Provider{} },
}

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
	apiKeyEnv        = "ANTHROPIC_API_KEY"
)

// Provider implements core.Provider for Anthropic.
type Provider struct {
	client      *llmclient.Client
	apiKey      string
	model       string
	initialized bool
}

// Initialize validates the API key and prepares the HTTP client.
func (p *Provider) Initialize(ctx context.Context, cfg core.ProviderConfig) error {
	if cfg.APIKey == "" {
		return core.NewAuthenticationError("anthropic", "missing API key: set "+apiKeyEnv)
	}

	p.apiKey = cfg.APIKey
	p.model = cfg.StringOption("model", defaultModel)
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "anthropic",
		BaseURL:      cfg.StringOption("baseUrl", defaultBaseURL),
	}, p.setHeaders)
	p.initialized = true
	return nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
}

// IsConfigured reports whether Initialize succeeded with a key present.
func (p *Provider) IsConfigured() bool {
	return p.initialized && p.apiKey != ""
}

// RequiredAPIKeyName returns the env var the key is sourced from.
func (p *Provider) RequiredAPIKeyName() string {
	return apiKeyEnv
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) buildRequest(model, system, prompt string, maxTokens int, temperature float64) messagesRequest {
	if model == "" {
		model = p.model
	}
	if maxTokens <= 0 {
		// max_tokens is required by the messages API.
		maxTokens = defaultMaxTokens
	}
	return messagesRequest{
		Model:       model,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

func usageFrom(resp *messagesResponse) core.Usage {
	return core.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
}

func textFrom(resp *messagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

// GenerateText executes a messages request and returns the text block.
func (p *Provider) GenerateText(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResult, error) {
	body := p.buildRequest(req.Model, req.System, req.Prompt, req.MaxTokens, req.Temperature)

	var resp messagesResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &core.GenerateResult{
		Text:  textFrom(&resp),
		Usage: usageFrom(&resp),
	}, nil
}

// GenerateObject asks for a single JSON object via prompting and validates
// the returned text parses as JSON.
func (p *Provider) GenerateObject(ctx context.Context, req *core.ObjectRequest) (*core.ObjectResult, error) {
	system := req.System
	if system != "" {
		system += "\n"
	}
	system += "Respond with a single JSON object and nothing else."
	if len(req.Schema) > 0 {
		system += " The object must match this schema:\n" + string(req.Schema)
	}

	body := p.buildRequest(req.Model, system, req.Prompt, req.MaxTokens, req.Temperature)

	var resp messagesResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	text := textFrom(&resp)
	if !json.Valid([]byte(text)) {
		return nil, core.NewProviderError("anthropic", http.StatusBadGateway, "response was not valid JSON", nil)
	}

	return &core.ObjectResult{
		Object: json.RawMessage(text),
		Usage:  usageFrom(&resp),
	}, nil
}

// StreamText starts an SSE messages request and relays text deltas.
func (p *Provider) StreamText(ctx context.Context, req *core.GenerateRequest) (core.TextStream, error) {
	body := p.buildRequest(req.Model, req.System, req.Prompt, req.MaxTokens, req.Temperature)
	body.Stream = true

	rc, err := p.client.Stream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	return llmclient.NewTextStream(rc, func(line string) (string, bool, error) {
		data, ok := llmclient.SSEData(line)
		if !ok {
			return "", false, nil
		}
		switch gjson.Get(data, "type").String() {
		case "message_stop":
			return "", true, nil
		case "content_block_delta":
			return gjson.Get(data, "delta.text").String(), false, nil
		default:
			return "", false, nil
		}
	}), nil
}

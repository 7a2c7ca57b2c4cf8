// Package openai implements the provider capability contract against the
// OpenAI chat completions API.
package openai

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
	Name: "openai",
	New:  func() core.Provider { return &Provider{} },
}

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	apiKeyEnv      = "OPENAI_API_KEY"
)

// Provider implements core.Provider for OpenAI.
type Provider struct {
	client      *llmclient.Client
	apiKey      string
	model       string
	initialized bool
}

// Initialize validates the API key and prepares the HTTP client.
func (p *Provider) Initialize(ctx context.Context, cfg core.ProviderConfig) error {
	if cfg.APIKey == "" {
		return core.NewAuthenticationError("openai", "missing API key: set "+apiKeyEnv)
	}

	p.apiKey = cfg.APIKey
	p.model = cfg.StringOption("model", defaultModel)
	p.client = llmclient.New(llmclient.Config{
		ProviderName: "openai",
		BaseURL:      cfg.StringOption("baseUrl", defaultBaseURL),
	}, p.setHeaders)
	p.initialized = true
	return nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// IsConfigured reports whether Initialize succeeded with a key present.
func (p *Provider) IsConfigured() bool {
	return p.initialized && p.apiKey != ""
}

// RequiredAPIKeyName returns the env var the key is sourced from.
func (p *Provider) RequiredAPIKeyName() string {
	return apiKeyEnv
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature,omitempty"`
	Stream         bool          `json:"stream,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) buildMessages(system, prompt string) []chatMessage {
	var msgs []chatMessage
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt})
}

func (p *Provider) modelFor(requested string) string {
	if requested != "" {
		return requested
	}
	return p.model
}

// GenerateText executes a chat completion and returns the first choice.
func (p *Provider) GenerateText(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResult, error) {
	body := chatRequest{
		Model:       p.modelFor(req.Model),
		Messages:    p.buildMessages(req.System, req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var resp chatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewProviderError("openai", http.StatusBadGateway, "response contained no choices", nil)
	}

	return &core.GenerateResult{
		Text: resp.Choices[0].Message.Content,
		Usage: core.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// GenerateObject executes a chat completion in JSON mode and returns the
// raw object.
func (p *Provider) GenerateObject(ctx context.Context, req *core.ObjectRequest) (*core.ObjectResult, error) {
	system := req.System
	if len(req.Schema) > 0 {
		system += "\nRespond with a single JSON object matching this schema:\n" + string(req.Schema)
	}

	body := chatRequest{
		Model:       p.modelFor(req.Model),
		Messages:    p.buildMessages(system, req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	body.ResponseFormat = &struct {
		Type string `json:"type"`
	}{Type: "json_object"}

	var resp chatResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, core.NewProviderError("openai", http.StatusBadGateway, "response contained no choices", nil)
	}

	content := resp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return nil, core.NewProviderError("openai", http.StatusBadGateway, "response was not valid JSON", nil)
	}

	return &core.ObjectResult{
		Object: json.RawMessage(content),
		Usage: core.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// StreamText starts an SSE chat completion and relays content deltas.
func (p *Provider) StreamText(ctx context.Context, req *core.GenerateRequest) (core.TextStream, error) {
	body := chatRequest{
		Model:       p.modelFor(req.Model),
		Messages:    p.buildMessages(req.System, req.Prompt),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	rc, err := p.client.Stream(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
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
		if data == "[DONE]" {
			return "", true, nil
		}
		return gjson.Get(data, "choices.0.delta.content").String(), false, nil
	}), nil
}

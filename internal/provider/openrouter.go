package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valpere/turjuman/internal/postprocess"
)

const (
	defaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel = "meta-llama/llama-3.1-8b-instruct:free"
)

// OpenRouter generates text via the OpenRouter chat completions API.
type OpenRouter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenRouter creates an OpenRouter-backed generator.
func NewOpenRouter(opts Options) *OpenRouter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenRouterModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenRouter{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OpenRouter) Name() string { return "openrouter" }

// Generate sends the prompt as a single user message and returns the
// cleaned completion with the usage block the API reports.
func (o *OpenRouter) Generate(ctx context.Context, prompt string, p Params) (*Result, error) {
	const op = "openrouter generate"
	start := time.Now()

	if o.apiKey == "" {
		return nil, Fatal(op, fmt.Errorf("API key required"))
	}

	model := p.Model
	if model == "" {
		model = o.model
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens": maxTokens,
	}
	if p.Temperature > 0 {
		payload["temperature"] = p.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Fatal(op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, Fatal(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("HTTP-Referer", "https://turjuman.local")
	req.Header.Set("X-Title", "Turjuman")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody map[string]any
		json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, classifyStatus(op, resp.StatusCode, fmt.Sprintf("%v", errBody))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Transient(op, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return nil, Transient(op, fmt.Errorf("empty response"))
	}

	return &Result{
		Text:    postprocess.Clean(out.Choices[0].Message.Content),
		Model:   model,
		Latency: time.Since(start),
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
	}, nil
}

// Package provider defines the generation capability the pipeline
// consumes, generate(prompt) -> text, and its backend implementations.
// The pipeline depends only on the Generator interface; request and
// response shapes per backend are confined to this package.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Params tunes a single generation call.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting for one generation call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another call's counters.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Result is the outcome of one generation call.
type Result struct {
	Text    string
	Model   string
	Latency time.Duration
	Usage   Usage
}

// Generator is the language-generation capability. Errors returned from
// Generate are classified via TransientError/FatalError; unclassified
// errors are treated as transient by callers.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, p Params) (*Result, error)
}

// Options configures a backend constructed by New.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New constructs a named backend. Supported: "ollama", "openrouter".
func New(name string, opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "ollama":
		return NewOllama(opts), nil
	case "openrouter":
		return NewOpenRouter(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

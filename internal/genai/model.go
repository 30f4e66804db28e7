// Package genai provides the language model backends used by the conversation engine.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is the speaker of a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one context message sent to a model.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest asks for free-form text. Zero Temperature or MaxTokens fall back to the
// client defaults.
type CompletionRequest struct {
	Operation   string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// StructuredRequest asks for a JSON object matching Schema.
type StructuredRequest struct {
	Operation   string
	System      string
	Messages    []Message
	SchemaName  string
	Schema      any
	Temperature float64
	MaxTokens   int
}

// Model is a hosted language model.
type Model interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	CompleteStructured(ctx context.Context, req StructuredRequest, out any) error
	Name() string
}

var (
	// ErrNoChoicesReturned is returned when the provider answers without any candidate.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the candidate carries no text.
	ErrEmptyResponse = errors.New("empty response")
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

// Opts holds configuration shared by the model backends.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	DebugMode   bool
	StateDir    string
}

// Option configures a model backend.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens sets the default completion token limit.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode dumps every request and response as JSON under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

func buildOpts(opts []Option) Opts {
	o := Opts{Model: DefaultModel, Temperature: 0.3, MaxTokens: 256}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// decodeJSON unmarshals a model's JSON answer, tolerating a markdown code fence.
func decodeJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	if text == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode structured response: %w", err)
	}
	return nil
}

func pick[T float64 | int](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

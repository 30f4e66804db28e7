package genai

import (
	"context"
	"fmt"
	"log/slog"

	googlegenai "google.golang.org/genai"
)

// DefaultGeminiModel is used by NewGeminiClient when no model name is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error)
}

// GeminiClient is the Google Gemini backend.
type GeminiClient struct {
	models      contentGenerator
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// NewGeminiClient creates a Gemini API client. An API key is required.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	o := buildOpts(append([]Option{WithModel(DefaultGeminiModel)}, opts...))
	if o.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key not set")
	}
	cli, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  o.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	slog.Debug("genai.NewGeminiClient: Gemini client created", "model", o.Model)
	return &GeminiClient{
		models:      cli.Models,
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		debugMode:   o.DebugMode,
		stateDir:    o.StateDir,
	}, nil
}

// Name returns the configured model name.
func (g *GeminiClient) Name() string { return g.model }

func (g *GeminiClient) request(system string, msgs []Message, temperature float64, maxTokens int) ([]*googlegenai.Content, *googlegenai.GenerateContentConfig) {
	contents := make([]*googlegenai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			contents = append(contents, googlegenai.NewContentFromText(m.Content, googlegenai.RoleModel))
		case RoleSystem:
			system += "\n\n" + m.Content
		default:
			contents = append(contents, googlegenai.NewContentFromText(m.Content, googlegenai.RoleUser))
		}
	}
	cfg := &googlegenai.GenerateContentConfig{
		Temperature: googlegenai.Ptr(float32(pick(temperature, g.temperature))),
	}
	if n := pick(maxTokens, g.maxTokens); n > 0 {
		cfg.MaxOutputTokens = int32(n)
	}
	if system != "" {
		cfg.SystemInstruction = googlegenai.NewContentFromText(system, googlegenai.RoleUser)
	}
	return contents, cfg
}

func (g *GeminiClient) generate(ctx context.Context, method, operation string, contents []*googlegenai.Content, cfg *googlegenai.GenerateContentConfig) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if g.debugMode {
		writeDebug(g.stateDir, debugCall{Method: method, Operation: operation, Model: g.model}, map[string]any{"contents": contents, "config": cfg}, resp, err)
	}
	if err != nil {
		return "", fmt.Errorf("generate content failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrNoChoicesReturned
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Complete returns the model's text for req.
func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	contents, cfg := g.request(req.System, req.Messages, req.Temperature, req.MaxTokens)
	return g.generate(ctx, "Complete", req.Operation, contents, cfg)
}

// CompleteStructured asks for JSON output matching req.Schema and decodes it into out.
func (g *GeminiClient) CompleteStructured(ctx context.Context, req StructuredRequest, out any) error {
	contents, cfg := g.request(req.System, req.Messages, req.Temperature, req.MaxTokens)
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseJsonSchema = req.Schema
	text, err := g.generate(ctx, "CompleteStructured", req.Operation, contents, cfg)
	if err != nil {
		return err
	}
	return decodeJSON(text, out)
}

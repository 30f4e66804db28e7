package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

type completions struct {
	svc *openai.ChatCompletionService
}

func (c completions) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client is the OpenAI chat completion backend.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

// NewClient creates an OpenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	o := buildOpts(opts)
	if o.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(o.APIKey))
	slog.Debug("genai.NewClient: OpenAI client created", "model", o.Model, "debug", o.DebugMode)
	return &Client{
		chat:        completions{svc: &cli.Chat.Completions},
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		debugMode:   o.DebugMode,
		stateDir:    o.StateDir,
	}, nil
}

// Name returns the configured model name.
func (c *Client) Name() string { return c.model }

func (c *Client) params(system string, msgs []Message, temperature float64, maxTokens int) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    out,
		Temperature: openai.Float(pick(temperature, c.temperature)),
	}
	if n := pick(maxTokens, c.maxTokens); n > 0 {
		p.MaxCompletionTokens = openai.Int(int64(n))
	}
	return p
}

func (c *Client) create(ctx context.Context, method, operation string, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.chat.Create(ctx, params)
	if c.debugMode {
		writeDebug(c.stateDir, debugCall{Method: method, Operation: operation, Model: c.model}, params, resp, err)
	}
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Complete returns the model's text for req.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return c.create(ctx, "Complete", req.Operation, c.params(req.System, req.Messages, req.Temperature, req.MaxTokens))
}

// CompleteStructured asks for a JSON object matching req.Schema and decodes it into out.
func (c *Client) CompleteStructured(ctx context.Context, req StructuredRequest, out any) error {
	p := c.params(req.System, req.Messages, req.Temperature, req.MaxTokens)
	p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        req.SchemaName,
				Description: openai.String(req.Operation),
				Schema:      req.Schema,
			},
		},
	}
	text, err := c.create(ctx, "CompleteStructured", req.Operation, p)
	if err != nil {
		return err
	}
	return decodeJSON(text, out)
}

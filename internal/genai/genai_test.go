package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completion(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestComplete_Success(t *testing.T) {
	mock := &mockChatService{resp: completion("Kiek metų patirties turite?")}
	client := &Client{chat: mock, model: "test-model", temperature: 0.3, maxTokens: 140}
	out, err := client.Complete(context.Background(), CompletionRequest{
		System:   "system prompt",
		Messages: []Message{{Role: RoleAssistant, Content: "Sveiki"}, {Role: RoleUser, Content: "taip"}},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Kiek metų patirties turite?" {
		t.Errorf("unexpected output %q", out)
	}
	if len(mock.params.Messages) != 3 {
		t.Errorf("expected system + 2 messages, got %d", len(mock.params.Messages))
	}
	if mock.params.Model != "test-model" {
		t.Errorf("expected model test-model, got %s", mock.params.Model)
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Complete(context.Background(), CompletionRequest{System: "sys"})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}}}
	_, err := client.Complete(context.Background(), CompletionRequest{System: "sys"})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestComplete_EmptyContent(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("")}}
	_, err := client.Complete(context.Background(), CompletionRequest{System: "sys"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected empty response error, got %v", err)
	}
}

func TestCompleteStructured_DecodesJSON(t *testing.T) {
	mock := &mockChatService{resp: completion("```json\n{\"intent\": \"accept\", \"years\": 5}\n```")}
	client := &Client{chat: mock, model: "test-model"}
	var out struct {
		Intent string `json:"intent"`
		Years  int    `json:"years"`
	}
	err := client.CompleteStructured(context.Background(), StructuredRequest{
		Operation:  "analyze",
		SchemaName: "sms_analysis",
		Schema:     map[string]any{"type": "object"},
	}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Intent != "accept" || out.Years != 5 {
		t.Errorf("unexpected decode %+v", out)
	}
	if mock.params.ResponseFormat.OfJSONSchema == nil {
		t.Fatal("expected json schema response format")
	}
	if mock.params.ResponseFormat.OfJSONSchema.JSONSchema.Name != "sms_analysis" {
		t.Errorf("unexpected schema name %q", mock.params.ResponseFormat.OfJSONSchema.JSONSchema.Name)
	}
}

func TestCompleteStructured_InvalidJSON(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completion("Not JSON")}}
	var out map[string]any
	if err := client.CompleteStructured(context.Background(), StructuredRequest{}, &out); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-test"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.Name() != "gpt-test" {
		t.Errorf("expected model gpt-test, got %s", cli.Name())
	}
}

func TestNewGeminiClient_NoKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background()); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

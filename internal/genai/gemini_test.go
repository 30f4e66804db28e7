package genai

import (
	"context"
	"errors"
	"testing"

	googlegenai "google.golang.org/genai"
)

type mockGenerator struct {
	resp     *googlegenai.GenerateContentResponse
	err      error
	contents []*googlegenai.Content
	config   *googlegenai.GenerateContentConfig
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error) {
	m.contents, m.config = contents, config
	return m.resp, m.err
}

func geminiText(text string) *googlegenai.GenerateContentResponse {
	return &googlegenai.GenerateContentResponse{
		Candidates: []*googlegenai.Candidate{{Content: googlegenai.NewContentFromText(text, googlegenai.RoleModel)}},
	}
}

func TestGeminiComplete(t *testing.T) {
	mock := &mockGenerator{resp: geminiText("Labas")}
	g := &GeminiClient{models: mock, model: "gemini-test", temperature: 0.2}
	out, err := g.Complete(context.Background(), CompletionRequest{
		System:   "sys",
		Messages: []Message{{Role: RoleAssistant, Content: "a"}, {Role: RoleUser, Content: "b"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Labas" {
		t.Errorf("expected Labas, got %q", out)
	}
	if len(mock.contents) != 2 || mock.contents[0].Role != googlegenai.RoleModel {
		t.Errorf("unexpected contents %+v", mock.contents)
	}
	if mock.config.SystemInstruction == nil {
		t.Error("expected system instruction")
	}
}

func TestGeminiCompleteStructured(t *testing.T) {
	mock := &mockGenerator{resp: geminiText(`{"intent":"decline"}`)}
	g := &GeminiClient{models: mock, model: "gemini-test"}
	var out struct {
		Intent string `json:"intent"`
	}
	if err := g.CompleteStructured(context.Background(), StructuredRequest{Schema: map[string]any{"type": "object"}}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Intent != "decline" {
		t.Errorf("expected decline, got %q", out.Intent)
	}
	if mock.config.ResponseMIMEType != "application/json" {
		t.Errorf("expected json mime type, got %q", mock.config.ResponseMIMEType)
	}
}

func TestGeminiErrors(t *testing.T) {
	g := &GeminiClient{models: &mockGenerator{err: errors.New("quota")}}
	if _, err := g.Complete(context.Background(), CompletionRequest{}); err == nil {
		t.Error("expected error")
	}
	g = &GeminiClient{models: &mockGenerator{resp: &googlegenai.GenerateContentResponse{}}}
	if _, err := g.Complete(context.Background(), CompletionRequest{}); !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

package genai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// readDump returns the only debug dump under stateDir and its file name.
func readDump(t *testing.T, stateDir string) (map[string]any, string) {
	t.Helper()
	files, err := os.ReadDir(filepath.Join(stateDir, "debug"))
	if err != nil {
		t.Fatalf("read debug dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("want 1 debug dump, got %d", len(files))
	}
	data, err := os.ReadFile(filepath.Join(stateDir, "debug", files[0].Name()))
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("dump is not JSON: %v", err)
	}
	return entry, files[0].Name()
}

func TestDebugDumpPerCall(t *testing.T) {
	tests := []struct {
		name      string
		resp      openai.ChatCompletion
		err       error
		call      func(c *Client) error
		method    string
		operation string
		fileTag   string
		wantErr   string
	}{
		{
			name: "complete",
			resp: completion("Kiek metų patirties turite?"),
			call: func(c *Client) error {
				_, err := c.Complete(context.Background(), CompletionRequest{Operation: "generate", Messages: []Message{{Role: RoleUser, Content: "taip"}}})
				return err
			},
			method: "Complete", operation: "generate", fileTag: "_generate.json",
		},
		{
			name: "structured",
			resp: completion(`{"intent":"accept"}`),
			call: func(c *Client) error {
				var out map[string]string
				return c.CompleteStructured(context.Background(), StructuredRequest{Operation: "analyze", SchemaName: "plan", Schema: map[string]any{"type": "object"}, Messages: []Message{{Role: RoleUser, Content: "domina"}}}, &out)
			},
			method: "CompleteStructured", operation: "analyze", fileTag: "_analyze.json",
		},
		{
			name: "provider error",
			err:  errors.New("429 rate limited"),
			call: func(c *Client) error {
				_, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "labas"}}})
				return err
			},
			method: "Complete", fileTag: "_Complete.json", wantErr: "429 rate limited",
		},
		{
			name: "operation with spaces",
			resp: completion("Sveiki!"),
			call: func(c *Client) error {
				_, err := c.Complete(context.Background(), CompletionRequest{Operation: "opener v2/lt", Messages: []Message{{Role: RoleUser, Content: "Kaunas"}}})
				return err
			},
			method: "Complete", operation: "opener v2/lt", fileTag: "_opener_v2_lt.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			c := &Client{chat: &mockChatService{resp: tt.resp, err: tt.err}, model: "gpt-test", debugMode: true, stateDir: dir}
			err := tt.call(c)
			if (err != nil) != (tt.wantErr != "") {
				t.Fatalf("call error = %v, want error %q", err, tt.wantErr)
			}

			entry, name := readDump(t, dir)
			if !strings.HasSuffix(name, tt.fileTag) {
				t.Errorf("dump file %q, want suffix %q", name, tt.fileTag)
			}
			if entry["method"] != tt.method {
				t.Errorf("method = %v, want %s", entry["method"], tt.method)
			}
			if got, _ := entry["operation"].(string); got != tt.operation {
				t.Errorf("operation = %q, want %q", got, tt.operation)
			}
			if entry["model"] != "gpt-test" {
				t.Errorf("model = %v", entry["model"])
			}
			if _, ok := entry["params"]; !ok {
				t.Error("params missing")
			}
			if got, _ := entry["error"].(string); !strings.Contains(got, tt.wantErr) || (tt.wantErr == "") != (got == "") {
				t.Errorf("error field = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestDebugDumpOffByDefault(t *testing.T) {
	dir := t.TempDir()
	c := &Client{chat: &mockChatService{resp: completion("ok")}, model: "gpt-test", stateDir: dir}
	if _, err := c.Complete(context.Background(), CompletionRequest{Operation: "generate"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "debug")); !os.IsNotExist(err) {
		t.Errorf("debug dir created without debug mode: %v", err)
	}
}

func TestDebugDumpUnwritableStateDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "state")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c := &Client{chat: &mockChatService{resp: completion("ok")}, model: "gpt-test", debugMode: true, stateDir: file}
	if out, err := c.Complete(context.Background(), CompletionRequest{}); err != nil || out != "ok" {
		t.Fatalf("a failed dump must not fail the call: %q, %v", out, err)
	}
}

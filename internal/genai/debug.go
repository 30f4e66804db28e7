package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// debugCall identifies one model call in a debug dump.
type debugCall struct {
	Method    string `json:"method"`
	Operation string `json:"operation,omitempty"`
	Model     string `json:"model"`
}

type debugEntry struct {
	Timestamp string `json:"timestamp"`
	debugCall
	Params   any    `json:"params"`
	Response any    `json:"response"`
	Error    string `json:"error,omitempty"`
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// fileTag names the dump after the operation, falling back to the method.
func (c debugCall) fileTag() string {
	tag := c.Operation
	if tag == "" {
		tag = c.Method
	}
	return unsafeFileChars.ReplaceAllString(tag, "_")
}

// writeDebug dumps one call to stateDir/debug. Failures are logged and otherwise ignored.
func writeDebug(stateDir string, call debugCall, params, response any, callErr error) {
	dir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.writeDebug: failed to create debug directory", "dir", dir, "error", err)
		return
	}
	now := time.Now().UTC()
	entry := debugEntry{
		Timestamp: now.Format(time.RFC3339Nano),
		debugCall: call,
		Params:    params,
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebug: failed to marshal debug entry", "method", call.Method, "operation", call.Operation, "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), call.fileTag())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai.writeDebug: failed to write debug file", "file", name, "error", err)
	}
}

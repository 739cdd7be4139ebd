// Package testutil provides test helper utilities for agentlock tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TempProject creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}

	return dir
}

// GrenProject returns file contents for a small Gren application, the kind
// of tree several agents edit at once.
func GrenProject() map[string]string {
	grenJSON := map[string]interface{}{
		"type":               "application",
		"platform":           "node",
		"source-directories": []string{"src"},
		"gren-version":       "0.4.5",
		"dependencies":       map[string]interface{}{"direct": map[string]string{"gren-lang/core": "5.0.0"}},
	}
	data, _ := json.MarshalIndent(grenJSON, "", "  ")

	return map[string]string{
		"gren.json":       string(data),
		"src/Main.gren":   "module Main exposing (main)\n\nmain = Node.defineProgram {}\n",
		"src/Parser.gren": "module Parser exposing (parse)\n",
		"src/Lexer.gren":  "module Lexer exposing (tokens)\n",
	}
}

// HookPayload encodes fields as the JSON document a hook reads on stdin.
func HookPayload(t *testing.T, fields map[string]any) string {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("encoding hook payload: %v", err)
	}
	return string(data)
}

// ToolPayload builds a pre/post-tool payload for toolName with args.
func ToolPayload(t *testing.T, session, toolName string, args map[string]any) string {
	t.Helper()
	return HookPayload(t, map[string]any{
		"session_id":     session,
		"tool_name":      toolName,
		"tool_arguments": args,
	})
}

// Transcript writes a host transcript with one JSONL entry per message and
// returns its path. Messages alternate user and assistant, starting with user.
func Transcript(t *testing.T, dir string, messages ...string) string {
	t.Helper()
	var b strings.Builder
	for i, msg := range messages {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		line, _ := json.Marshal(map[string]any{
			"type":    role,
			"message": map[string]any{"role": role, "content": msg},
		})
		b.Write(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(dir, "transcript.jsonl")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("writing transcript: %v", err)
	}
	return path
}

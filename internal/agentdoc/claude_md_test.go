package agentdoc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gren-lsp/agentlock/internal/agentstate"
	"github.com/gren-lsp/agentlock/internal/config"
	"github.com/gren-lsp/agentlock/internal/toolpaths"
)

func TestClaudeSettingsIsValidJSON(t *testing.T) {
	out, err := ClaudeSettings("agentlock", toolpaths.Sets{
		Writing: []string{"Write", "Edit"},
		Reading: []string{"Read"},
	})
	if err != nil {
		t.Fatalf("ClaudeSettings failed: %v", err)
	}

	var doc struct {
		Hooks map[string][]struct {
			Matcher string `json:"matcher"`
			Hooks   []struct {
				Command string `json:"command"`
			} `json:"hooks"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("settings are not valid JSON: %v\n%s", err, out)
	}

	pre := doc.Hooks["PreToolUse"]
	if len(pre) != 1 || pre[0].Matcher != "Write|Edit|Read" {
		t.Errorf("PreToolUse: %+v", pre)
	}
	if got := pre[0].Hooks[0].Command; got != "agentlock hook pre-tool" {
		t.Errorf("pre-tool command: %q", got)
	}
	for event, cmd := range map[string]string{
		"PostToolUse":      "agentlock hook post-tool",
		"UserPromptSubmit": "agentlock hook task-start",
		"Stop":             "agentlock hook agent-complete",
	} {
		entries := doc.Hooks[event]
		if len(entries) != 1 || entries[0].Hooks[0].Command != cmd {
			t.Errorf("%s: %+v", event, entries)
		}
	}
}

func TestClaudeSettingsEscapesMatcher(t *testing.T) {
	out, err := ClaudeSettings(`C:\tools\agentlock.exe`, toolpaths.Sets{Writing: []string{"mcp__fs.write"}})
	if err != nil {
		t.Fatalf("ClaudeSettings failed: %v", err)
	}

	var doc struct {
		Hooks map[string][]struct {
			Matcher string `json:"matcher"`
			Hooks   []struct {
				Command string `json:"command"`
			} `json:"hooks"`
		} `json:"hooks"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("settings are not valid JSON: %v\n%s", err, out)
	}
	pre := doc.Hooks["PreToolUse"][0]
	if pre.Matcher != `mcp__fs\.write` {
		t.Errorf("matcher: got %q", pre.Matcher)
	}
	if pre.Hooks[0].Command != `C:\tools\agentlock.exe hook pre-tool` {
		t.Errorf("command: got %q", pre.Hooks[0].Command)
	}
}

func TestCoordinationSection(t *testing.T) {
	cfg := config.DefaultConfig()
	text := Coordination(cfg, []agentstate.AgentRecord{
		{SessionID: "A", Name: "frontend", Status: agentstate.StatusBusy, CurrentTask: "fix parser", LastActivity: time.Now()},
	})

	for _, want := range []string{
		"Write, Edit, MultiEdit, NotebookEdit",
		"expire after 10m0s",
		"retry shortly",
		"- frontend (busy): fix parser",
		"`.agentlock/`",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("section missing %q:\n%s", want, text)
		}
	}

	if strings.Contains(Coordination(cfg, nil), "Agents last seen") {
		t.Error("agent list rendered with no agents")
	}
}

func TestWriteCLAUDEMD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CLAUDE.md")
	if err := os.WriteFile(path, []byte("# Project\n\nKeep this."), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := WriteCLAUDEMD(dir, "first\n"); err != nil {
		t.Fatalf("WriteCLAUDEMD failed: %v", err)
	}
	if err := WriteCLAUDEMD(dir, "second\n"); err != nil {
		t.Fatalf("WriteCLAUDEMD failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	want := "# Project\n\nKeep this.\n\n" + startMarker + "\nsecond\n" + endMarker + "\n"
	if string(data) != want {
		t.Errorf("got:\n%q\nwant:\n%q", data, want)
	}
}

func TestWriteCLAUDEMDCreatesFile(t *testing.T) {
	dir := t.TempDir()
	if err := WriteCLAUDEMD(dir, "notes"); err != nil {
		t.Fatalf("WriteCLAUDEMD failed: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "CLAUDE.md"))
	if string(data) != startMarker+"\nnotes\n"+endMarker+"\n" {
		t.Errorf("got %q", data)
	}
}

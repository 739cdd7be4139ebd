// Package agentdoc renders the Claude Code files agentlock manages: the hook
// settings and the coordination section of the project's CLAUDE.md.
package agentdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/gren-lsp/agentlock/internal/agentstate"
	"github.com/gren-lsp/agentlock/internal/config"
	"github.com/gren-lsp/agentlock/internal/toolpaths"
	"github.com/gren-lsp/agentlock/internal/ui"
	"github.com/gren-lsp/agentlock/prompts"
)

// Markers delimit the managed section inside CLAUDE.md.
const (
	startMarker = "<!-- agentlock:start -->"
	endMarker   = "<!-- agentlock:end -->"
)

var (
	settingsTmpl     = template.Must(template.New("settings").Parse(prompts.ClaudeSettingsTemplate))
	coordinationTmpl = template.Must(template.New("coordination").
				Funcs(template.FuncMap{"join": strings.Join}).
				Parse(prompts.CoordinationTemplate))
)

type settingsData struct {
	Binary  string
	Matcher string
}

type coordinationData struct {
	WritingTools []string
	ReadingTools []string
	TTL          string
	StateDir     string
	Agents       []agentstate.AgentRecord
}

// ClaudeSettings renders the hooks block for .claude/settings.json. The
// PreToolUse and PostToolUse matchers cover exactly the tools in sets.
func ClaudeSettings(binary string, sets toolpaths.Sets) (string, error) {
	names := append(append([]string(nil), sets.Writing...), sets.Reading...)
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}

	var buf bytes.Buffer
	err := settingsTmpl.Execute(&buf, settingsData{
		Binary:  jsonFragment(binary),
		Matcher: jsonFragment(strings.Join(quoted, "|")),
	})
	if err != nil {
		return "", fmt.Errorf("rendering Claude settings: %w", err)
	}
	return buf.String(), nil
}

// jsonFragment escapes s for use inside a JSON string literal.
func jsonFragment(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// Coordination renders the CLAUDE.md section explaining file locking to the
// agents, listing the known agents when there are any.
func Coordination(cfg *config.Config, agents []agentstate.AgentRecord) string {
	sets := cfg.ToolSets()
	data := coordinationData{
		WritingTools: sets.Writing,
		ReadingTools: sets.Reading,
		TTL:          ui.FormatDuration(cfg.LockTTL()),
		StateDir:     config.Dir,
		Agents:       agents,
	}

	var buf bytes.Buffer
	if err := coordinationTmpl.Execute(&buf, data); err != nil {
		// Template is embedded at build time; a failure is a bug.
		panic(fmt.Sprintf("executing coordination template: %v", err))
	}
	return buf.String()
}

// WriteCLAUDEMD places content between the agentlock markers in
// {dir}/CLAUDE.md, replacing an earlier section or appending a new one.
// Text outside the markers is preserved.
func WriteCLAUDEMD(dir, content string) error {
	path := filepath.Join(dir, "CLAUDE.md")
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading CLAUDE.md: %w", err)
	}

	section := startMarker + "\n" + strings.TrimRight(content, "\n") + "\n" + endMarker + "\n"
	updated := spliceSection(string(existing), section)

	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return fmt.Errorf("writing CLAUDE.md: %w", err)
	}
	return nil
}

func spliceSection(doc, section string) string {
	start := strings.Index(doc, startMarker)
	end := strings.Index(doc, endMarker)
	if start >= 0 && end > start {
		rest := doc[end+len(endMarker):]
		rest = strings.TrimPrefix(rest, "\n")
		return doc[:start] + section + rest
	}
	if doc == "" {
		return section
	}
	if !strings.HasSuffix(doc, "\n") {
		doc += "\n"
	}
	return doc + "\n" + section
}

// Package history produces short conversation excerpts for completion
// notifications.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gren-lsp/agentlock/internal/log"
)

// Provider returns up to limit recent entries of a session as text.
// An empty excerpt with a nil error means there is nothing to report.
type Provider interface {
	Excerpt(ctx context.Context, sessionID string, limit int) (string, error)
}

// maxEntryLen caps a single rendered entry.
const maxEntryLen = 500

// maxTranscriptLine is the longest transcript line that is parsed. Longer
// lines are skipped.
var maxTranscriptLine = 8 * 1024 * 1024

// TranscriptProvider reads the host's JSONL transcript at Path.
type TranscriptProvider struct {
	Path string
}

type transcriptLine struct {
	Type    string `json:"type"`
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// Excerpt renders the last limit transcript entries as "role: text" lines.
// A missing or unset transcript yields an empty excerpt.
func (p TranscriptProvider) Excerpt(ctx context.Context, _ string, limit int) (string, error) {
	if p.Path == "" {
		return "", nil
	}
	f, err := os.Open(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var entries []string
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := readLine(r, maxTranscriptLine)
		if line != nil {
			if entry, ok := renderTranscriptLine(line); ok {
				entries = append(entries, entry)
				if limit > 0 && len(entries) > limit {
					entries = entries[1:]
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read transcript: %w", err)
		}
	}
	return strings.Join(entries, "\n"), nil
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed and returned as nil.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if oversized || len(line) == 0 {
				return nil, err
			}
			return line, err
		}
		if !oversized {
			if len(line)+len(chunk) > limit {
				oversized, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			if oversized {
				return nil, nil
			}
			if line == nil {
				line = []byte{}
			}
			return line, nil
		}
	}
}

func renderTranscriptLine(line []byte) (string, bool) {
	var tl transcriptLine
	if err := json.Unmarshal(line, &tl); err != nil {
		return "", false
	}
	role := tl.Message.Role
	if role == "" {
		role = tl.Type
	}
	if role != "user" && role != "assistant" {
		return "", false
	}

	text := contentText(tl.Message.Content)
	if text == "" {
		return "", false
	}
	return role + ": " + truncate(text), true
}

// contentText flattens a message content field, which is either a string or
// a list of typed blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		case "tool_use":
			parts = append(parts, "["+b.Name+"]")
		}
	}
	return strings.Join(parts, " ")
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxEntryLen {
		return s
	}
	cut := maxEntryLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// JournalProvider renders the session's events from the agentlock journal.
type JournalProvider struct {
	Journal *log.Logger
}

// Excerpt renders the last limit journal events of sessionID.
func (p JournalProvider) Excerpt(_ context.Context, sessionID string, limit int) (string, error) {
	if p.Journal == nil {
		return "", nil
	}
	events, err := p.Journal.ReadSession(sessionID, limit)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, formatEvent(e))
	}
	return strings.Join(lines, "\n"), nil
}

func formatEvent(e log.LogEvent) string {
	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(e.Event)
	if e.Tool != "" {
		fmt.Fprintf(&b, " tool=%s", e.Tool)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if e.HeldBy != "" {
		fmt.Fprintf(&b, " held_by=%s", e.HeldBy)
	}
	if e.Count > 0 {
		fmt.Fprintf(&b, " count=%d", e.Count)
	}
	if e.Task != "" {
		fmt.Fprintf(&b, " task=%q", truncate(e.Task))
	}
	return b.String()
}

// Chain asks each provider in turn and returns the first non-empty excerpt.
// A provider error stops the chain.
type Chain []Provider

// Excerpt implements Provider.
func (c Chain) Excerpt(ctx context.Context, sessionID string, limit int) (string, error) {
	for _, p := range c {
		text, err := p.Excerpt(ctx, sessionID, limit)
		if err != nil {
			return "", err
		}
		if text != "" {
			return text, nil
		}
	}
	return "", nil
}

package hook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxPayloadBytes caps the hook document read from stdin.
const MaxPayloadBytes = 1 << 20

// SessionID accepts either a JSON string or a JSON number.
type SessionID string

// UnmarshalJSON implements json.Unmarshaler.
func (s *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = SessionID(strings.TrimSpace(str))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("session_id must be a string or number: %w", err)
	}
	*s = SessionID(n.String())
	return nil
}

// Payload is the JSON document the host writes to a hook's stdin.
type Payload struct {
	SessionID      SessionID       `json:"session_id"`
	ToolName       string          `json:"tool_name"`
	ToolArguments  json.RawMessage `json:"tool_arguments"`
	ToolInput      json.RawMessage `json:"tool_input"`
	Cwd            string          `json:"cwd"`
	TranscriptPath string          `json:"transcript_path"`
	Prompt         string          `json:"prompt"`
	AgentName      string          `json:"agent_name"`
	Message        string          `json:"message"`
	HookEventName  string          `json:"hook_event_name"`
}

// Session returns the session id as a plain string.
func (p *Payload) Session() string {
	return string(p.SessionID)
}

// Arguments returns tool_arguments, falling back to tool_input.
func (p *Payload) Arguments() json.RawMessage {
	if len(p.ToolArguments) > 0 && !bytes.Equal(bytes.TrimSpace(p.ToolArguments), []byte("null")) {
		return p.ToolArguments
	}
	return p.ToolInput
}

// ParsePayload reads one JSON document from r. Documents larger than
// MaxPayloadBytes are rejected.
func ParsePayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading hook payload: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("hook payload exceeds %d bytes", MaxPayloadBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty hook payload")
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing hook payload: %w", err)
	}
	return &p, nil
}

// Package agentstate persists agent session records in a JSON document shared
// by every hook process.
package agentstate

import (
	"errors"
	"time"
)

// ErrUnknownSession is returned when a session has no agent record.
var ErrUnknownSession = errors.New("unknown agent session")

// Status is the coarse activity state of an agent.
type Status string

const (
	StatusIdle Status = "idle"
	StatusBusy Status = "busy"
)

// AgentRecord describes one agent session.
type AgentRecord struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	CurrentTask  string    `json:"current_task,omitempty"` // kept after the agent goes idle
	LastActivity time.Time `json:"last_activity"`
}

// State is the on-disk document.
type State struct {
	Agents []AgentRecord `json:"agents"`
}

// find returns the index of sessionID in s.Agents, or -1.
func (s *State) find(sessionID string) int {
	for i := range s.Agents {
		if s.Agents[i].SessionID == sessionID {
			return i
		}
	}
	return -1
}

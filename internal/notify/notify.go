// Package notify delivers agent lifecycle events to the orchestrator.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gren-lsp/agentlock/internal/log"
)

// EventAgentCompleted is sent when an agent finishes its task.
const EventAgentCompleted = "agent_completed"

// Notification is the message delivered to the orchestrator.
type Notification struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Event     string    `json:"event"`
	Message   string    `json:"message"`
	AgentName string    `json:"agent_name"`
	SessionID string    `json:"session_id"`
	History   string    `json:"history,omitempty"`
}

// Notifier delivers a notification. Delivery is attempted once.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

func stamp(n *Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Time.IsZero() {
		n.Time = time.Now().UTC()
	}
}

// HTTPNotifier POSTs notifications as JSON to URL.
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

// NewHTTPNotifier returns a notifier whose requests time out after timeout.
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Notify sends n. Any non-2xx response is an error.
func (h *HTTPNotifier) Notify(ctx context.Context, n Notification) error {
	stamp(&n)
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify orchestrator: status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// JournalNotifier records notifications in the event journal. It is used
// when no orchestrator endpoint is configured.
type JournalNotifier struct {
	Journal *log.Logger
}

// Notify appends an orchestrator_notified event.
func (j JournalNotifier) Notify(_ context.Context, n Notification) error {
	stamp(&n)
	return j.Journal.Append(log.LogEvent{
		ID:        n.ID,
		Time:      n.Time,
		Event:     log.EventOrchestratorNotified,
		SessionID: n.SessionID,
		Agent:     n.AgentName,
		Message:   n.Message,
		Data: map[string]any{
			"event":   n.Event,
			"history": n.History,
		},
	})
}

package hook

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gren-lsp/agentlock/internal/agentstate"
	"github.com/gren-lsp/agentlock/internal/coordinator"
	"github.com/gren-lsp/agentlock/internal/history"
	"github.com/gren-lsp/agentlock/internal/lockstore"
	"github.com/gren-lsp/agentlock/internal/log"
	"github.com/gren-lsp/agentlock/internal/notify"
	"github.com/gren-lsp/agentlock/internal/testutil"
	"github.com/gren-lsp/agentlock/internal/toolpaths"
	"github.com/gren-lsp/agentlock/internal/ui"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	sent []notify.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	dir      string
	runner   *Runner
	clock    *clock
	notifier *recordingNotifier
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := testutil.TempProject(t, testutil.GrenProject())

	store, err := lockstore.Open(filepath.Join(dir, ".agentlock", "locks.db"))
	if err != nil {
		t.Fatalf("lockstore.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	agents, err := agentstate.NewStore(filepath.Join(dir, ".agentlock", "agents.json"))
	if err != nil {
		t.Fatalf("agentstate.NewStore failed: %v", err)
	}
	journal, err := log.NewLogger(dir)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	clk := &clock{now: time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)}
	reg := toolpaths.DefaultRegistry()
	if err := reg.Register(toolpaths.Tool{Name: "mcp__fs__batch", PathFields: []string{"paths"}}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var stdout, stderr bytes.Buffer
	notifier := &recordingNotifier{}
	r := &Runner{
		Locks:   coordinator.New(store, coordinator.WithClock(clk.Now), coordinator.WithTTL(10*time.Minute)),
		Agents:  agents,
		Journal: journal,
		Out:     ui.NewPrinter(&stdout, &stderr),
		Tools: toolpaths.Sets{
			Writing: []string{"Write", "Edit", "MultiEdit", "NotebookEdit", "mcp__fs__batch"},
			Reading: []string{"Read"},
		},
		Registry:           reg,
		DefaultAgentName:   "unknown-agent",
		CleanupProbability: 0.1,
		Roll:               func() float64 { return 0.99 },
		HistoryLimit:       50,
		Notifier:           notifier,
		Now:                clk.Now,
	}
	return &fixture{dir: dir, runner: r, clock: clk, notifier: notifier, stdout: &stdout, stderr: &stderr}
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.dir, rel)
}

func (f *fixture) payload(t *testing.T, doc string) *Payload {
	t.Helper()
	p, err := ParsePayload(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParsePayload failed: %v", err)
	}
	return p
}

func (f *fixture) edit(t *testing.T, session, rel string) *Payload {
	t.Helper()
	return f.payload(t, testutil.ToolPayload(t, session, "Edit", map[string]any{
		"file_path":  f.path(rel),
		"old_string": "a",
		"new_string": "b",
	}))
}

func (f *fixture) batch(t *testing.T, session string, rels ...string) *Payload {
	t.Helper()
	paths := make([]string, len(rels))
	for i, rel := range rels {
		paths[i] = f.path(rel)
	}
	return f.payload(t, testutil.ToolPayload(t, session, "mcp__fs__batch", map[string]any{"paths": paths}))
}

func (f *fixture) holder(t *testing.T, rel string) string {
	t.Helper()
	lock, err := f.runner.Locks.Check(context.Background(), f.path(rel))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if lock == nil {
		return ""
	}
	return lock.SessionID
}

func TestPreToolThenPostTool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PreTool failed: %v", err)
	}
	if got := f.holder(t, "src/Main.gren"); got != "A" {
		t.Fatalf("holder after pre-tool: %q", got)
	}
	if !strings.Contains(f.stdout.String(), "🔒 Locked "+f.path("src/Main.gren")) {
		t.Errorf("missing lock line:\n%s", f.stdout.String())
	}

	if err := f.runner.PostTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PostTool failed: %v", err)
	}
	if got := f.holder(t, "src/Main.gren"); got != "" {
		t.Errorf("lock still held by %q after post-tool", got)
	}
	if !strings.Contains(f.stdout.String(), "🔓 Released") {
		t.Errorf("missing release line:\n%s", f.stdout.String())
	}
}

func TestPreToolSkipsIrrelevantPayloads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payloads := map[string]string{
		"no tool name":   `{"session_id": "A"}`,
		"non-file tool":  testutil.ToolPayload(t, "A", "Bash", map[string]any{"command": "make"}),
		"invalid args":   testutil.ToolPayload(t, "A", "Write", map[string]any{"content": "x"}),
		"no session yet": `{"tool_name": "Grep"}`,
	}
	for name, doc := range payloads {
		t.Run(name, func(t *testing.T) {
			if err := f.runner.PreTool(ctx, f.payload(t, doc)); err != nil {
				t.Errorf("PreTool: %v", err)
			}
		})
	}

	locks, err := f.runner.Locks.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("expected no locks, got %+v", locks)
	}
}

func TestPreToolRequiresSession(t *testing.T) {
	f := newFixture(t)
	err := f.runner.PreTool(context.Background(), f.edit(t, "", "src/Main.gren"))
	if !errors.Is(err, ErrMissingSession) {
		t.Errorf("expected ErrMissingSession, got %v", err)
	}
}

func TestPreToolBlockedByOtherSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.runner.Agents.StartTask("A", "frontend", "fix parser", f.clock.Now()); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Parser.gren")); err != nil {
		t.Fatalf("PreTool A failed: %v", err)
	}

	err := f.runner.PreTool(ctx, f.edit(t, "B", "src/Parser.gren"))
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %T", err)
	}
	if blocked.Path != f.path("src/Parser.gren") || blocked.HeldBy != "A" || blocked.AgentName != "frontend" {
		t.Errorf("unexpected blocked error: %+v", blocked)
	}

	msg := f.stderr.String()
	if !strings.Contains(msg, f.path("src/Parser.gren")) || !strings.Contains(msg, "Retry shortly") {
		t.Errorf("blocked message must name the file and ask for a retry:\n%s", msg)
	}
	if got := f.holder(t, "src/Parser.gren"); got != "A" {
		t.Errorf("holder changed to %q", got)
	}
}

func TestPreToolAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "B", "src/Parser.gren")); err != nil {
		t.Fatalf("PreTool B failed: %v", err)
	}

	err := f.runner.PreTool(ctx, f.batch(t, "A", "src/Main.gren", "src/Parser.gren", "src/Lexer.gren"))
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}

	if got := f.holder(t, "src/Main.gren"); got != "" {
		t.Errorf("p1 held by %q after rollback", got)
	}
	if got := f.holder(t, "src/Lexer.gren"); got != "" {
		t.Errorf("p3 held by %q; acquisition should stop at the first failure", got)
	}
	if got := f.holder(t, "src/Parser.gren"); got != "B" {
		t.Errorf("p2 holder: got %q, want B", got)
	}

	events, err := f.runner.Journal.ReadSession("A", 0)
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Event)
	}
	want := []string{log.EventLockAcquired, log.EventLockRollback, log.EventLockBlocked}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("journal: got %v, want %v", kinds, want)
	}
}

func TestPreToolRollbackReleasesReacquiredLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PreTool A failed: %v", err)
	}
	if err := f.runner.PreTool(ctx, f.edit(t, "B", "src/Parser.gren")); err != nil {
		t.Fatalf("PreTool B failed: %v", err)
	}

	err := f.runner.PreTool(ctx, f.batch(t, "A", "src/Main.gren", "src/Parser.gren"))
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if got := f.holder(t, "src/Main.gren"); got != "" {
		t.Errorf("session kept %s after a failed call", "src/Main.gren")
	}
}

func TestPreToolIsIdempotentForSameSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
			t.Fatalf("PreTool #%d failed: %v", i+1, err)
		}
	}
	locks, err := f.runner.Locks.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(locks) != 1 {
		t.Errorf("got %d locks, want 1", len(locks))
	}
}

func TestPreToolUsesAgentName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PreTool failed: %v", err)
	}
	lock, _ := f.runner.Locks.Check(ctx, f.path("src/Main.gren"))
	if lock == nil || lock.AgentName != "unknown-agent" {
		t.Errorf("default agent name not used: %+v", lock)
	}

	if _, err := f.runner.Agents.StartTask("B", "backend", "t", f.clock.Now()); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	if err := f.runner.PreTool(ctx, f.edit(t, "B", "src/Lexer.gren")); err != nil {
		t.Fatalf("PreTool failed: %v", err)
	}
	lock, _ = f.runner.Locks.Check(ctx, f.path("src/Lexer.gren"))
	if lock == nil || lock.AgentName != "backend" {
		t.Errorf("registered agent name not used: %+v", lock)
	}
}

func TestPostToolWarnsOnForeignLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PreTool failed: %v", err)
	}

	if err := f.runner.PostTool(ctx, f.edit(t, "B", "src/Main.gren")); err != nil {
		t.Fatalf("PostTool should not fail on a foreign lock: %v", err)
	}
	if got := f.holder(t, "src/Main.gren"); got != "A" {
		t.Errorf("holder: got %q, want A", got)
	}
	if !strings.Contains(f.stderr.String(), "⚠️") {
		t.Errorf("expected a warning:\n%s", f.stderr.String())
	}

	// Releasing twice is also only a warning.
	if err := f.runner.PostTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PostTool failed: %v", err)
	}
	if err := f.runner.PostTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("second PostTool failed: %v", err)
	}
}

func TestPostToolOpportunisticCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "B", "src/Lexer.gren")); err != nil {
		t.Fatalf("PreTool failed: %v", err)
	}
	f.clock.Advance(time.Hour)

	// A roll above the probability leaves the expired lock alone.
	if err := f.runner.PostTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PostTool failed: %v", err)
	}
	locks, _ := f.runner.Locks.List(ctx)
	if len(locks) != 1 {
		t.Fatalf("cleanup ran on a losing roll: %+v", locks)
	}

	f.runner.Roll = func() float64 { return 0.01 }
	if err := f.runner.PostTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PostTool failed: %v", err)
	}
	locks, _ = f.runner.Locks.List(ctx)
	if len(locks) != 0 {
		t.Errorf("expired lock not reclaimed: %+v", locks)
	}
	if !strings.Contains(f.stdout.String(), "🧹 Removed 1 expired lock(s)") {
		t.Errorf("missing cleanup line:\n%s", f.stdout.String())
	}
}

// failingUpdates lets the first ok writes through and fails the rest.
type failingUpdates struct {
	coordinator.Store
	ok    int
	calls int
}

func (s *failingUpdates) Update(ctx context.Context, fn func(coordinator.Tx) error) error {
	s.calls++
	if s.calls > s.ok {
		return errors.New("database is locked")
	}
	return s.Store.Update(ctx, fn)
}

func TestPostToolCleanupFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.PreTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PreTool failed: %v", err)
	}

	store, err := lockstore.Open(filepath.Join(f.dir, ".agentlock", "locks.db"))
	if err != nil {
		t.Fatalf("lockstore.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	// One write for the release; the cleanup sweep fails.
	flaky := &failingUpdates{Store: store, ok: 1}
	f.runner.Locks = coordinator.New(flaky, coordinator.WithClock(f.clock.Now), coordinator.WithTTL(10*time.Minute))
	f.runner.Roll = func() float64 { return 0 }
	var logs bytes.Buffer
	f.runner.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	if err := f.runner.PostTool(ctx, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("PostTool failed on a cleanup error: %v", err)
	}
	if flaky.calls != 2 {
		t.Fatalf("store writes: got %d, want release and cleanup", flaky.calls)
	}
	locks, err := f.runner.Locks.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("release did not happen: %+v", locks)
	}
	if !strings.Contains(logs.String(), "expired lock cleanup failed") {
		t.Errorf("cleanup failure not logged:\n%s", logs.String())
	}
	if !strings.Contains(f.stdout.String(), "Released "+f.path("src/Main.gren")) {
		t.Errorf("missing release line:\n%s", f.stdout.String())
	}
}

func TestTaskStartNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.payload(t, `{"session_id": "0123456789abcdef", "prompt": "  add lexer tests  "}`)
	if err := f.runner.TaskStart(ctx, p); err != nil {
		t.Fatalf("TaskStart failed: %v", err)
	}
	rec, err := f.runner.Agents.Get("0123456789abcdef")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Name != "agent-01234567" || rec.CurrentTask != "add lexer tests" || rec.Status != agentstate.StatusBusy {
		t.Errorf("unexpected record: %+v", rec)
	}

	// A later prompt keeps the name.
	p = f.payload(t, `{"session_id": "0123456789abcdef", "prompt": "second"}`)
	if err := f.runner.TaskStart(ctx, p); err != nil {
		t.Fatalf("TaskStart failed: %v", err)
	}
	rec, _ = f.runner.Agents.Get("0123456789abcdef")
	if rec.Name != "agent-01234567" || rec.CurrentTask != "second" {
		t.Errorf("unexpected record: %+v", rec)
	}

	// An explicit name wins.
	p = f.payload(t, `{"session_id": 77, "prompt": "x", "agent_name": "frontend"}`)
	if err := f.runner.TaskStart(ctx, p); err != nil {
		t.Fatalf("TaskStart failed: %v", err)
	}
	rec, _ = f.runner.Agents.Get("77")
	if rec.Name != "frontend" {
		t.Errorf("name: got %q, want frontend", rec.Name)
	}
}

func TestCompletePreservesTaskAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.runner.Agents.StartTask("A", "frontend", "T", f.clock.Now()); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	f.clock.Advance(5 * time.Minute)

	transcript := testutil.Transcript(t, t.TempDir(), "please do T", "done with T")
	p := f.payload(t, testutil.HookPayload(t, map[string]any{
		"session_id":      "A",
		"transcript_path": transcript,
	}))
	if err := f.runner.Complete(ctx, p); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	rec, err := f.runner.Agents.Get("A")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != agentstate.StatusIdle || rec.CurrentTask != "T" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if !rec.LastActivity.Equal(f.clock.Now()) {
		t.Errorf("last activity: got %v, want %v", rec.LastActivity, f.clock.Now())
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(f.notifier.sent))
	}
	n := f.notifier.sent[0]
	if n.Event != notify.EventAgentCompleted || n.AgentName != "frontend" || n.SessionID != "A" {
		t.Errorf("unexpected notification: %+v", n)
	}
	if n.Message != "Agent frontend completed task: T" {
		t.Errorf("message: %q", n.Message)
	}
	if n.History != "user: please do T\nassistant: done with T" {
		t.Errorf("history: %q", n.History)
	}
}

func TestCompleteUnknownSessionIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.runner.Agents.StartTask("A", "frontend", "T", f.clock.Now()); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}
	before, err := os.ReadFile(f.runner.Agents.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	err = f.runner.Complete(ctx, f.payload(t, `{"session_id": "ghost"}`))
	if !errors.Is(err, agentstate.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}

	after, _ := os.ReadFile(f.runner.Agents.Path())
	if !bytes.Equal(before, after) {
		t.Error("agent state changed for an unknown session")
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("orchestrator notified for an unknown session: %+v", f.notifier.sent)
	}
}

func TestCompleteFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.runner.Agents.StartTask("A", "frontend", "T", f.clock.Now()); err != nil {
		t.Fatalf("StartTask failed: %v", err)
	}

	if err := f.runner.Complete(ctx, f.payload(t, `{"prompt": "x"}`)); !errors.Is(err, ErrMissingSession) {
		t.Errorf("expected ErrMissingSession, got %v", err)
	}

	boom := errors.New("history unavailable")
	f.runner.History = func(*Payload) history.Provider {
		return history.Chain{failingProvider{err: boom}}
	}
	if err := f.runner.Complete(ctx, f.payload(t, `{"session_id": "A"}`)); !errors.Is(err, boom) {
		t.Errorf("expected history error, got %v", err)
	}

	f.runner.History = nil
	f.notifier.err = errors.New("orchestrator down")
	if err := f.runner.Complete(ctx, f.payload(t, `{"session_id": "A"}`)); err == nil {
		t.Error("expected notifier error")
	}
}

type failingProvider struct{ err error }

func (p failingProvider) Excerpt(context.Context, string, int) (string, error) {
	return "", p.err
}

func TestRunDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.runner.Run(ctx, EventPreTool, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("Run pre-tool failed: %v", err)
	}
	if err := f.runner.Run(ctx, EventPostTool, f.edit(t, "A", "src/Main.gren")); err != nil {
		t.Fatalf("Run post-tool failed: %v", err)
	}
	if err := f.runner.Run(ctx, Event("session-end"), &Payload{}); err == nil {
		t.Error("expected error for unknown event")
	}
}

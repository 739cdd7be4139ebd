package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gren-lsp/agentlock/internal/agentstate"
	"github.com/gren-lsp/agentlock/internal/config"
	"github.com/gren-lsp/agentlock/internal/coordinator"
	"github.com/gren-lsp/agentlock/internal/hook"
	"github.com/gren-lsp/agentlock/internal/lockstore"
	"github.com/gren-lsp/agentlock/internal/log"
	"github.com/gren-lsp/agentlock/internal/notify"
	"github.com/gren-lsp/agentlock/internal/ui"
)

// project is one opened agentlock state directory.
type project struct {
	root    string
	cfg     *config.Config
	store   *lockstore.Store
	coord   *coordinator.Coordinator
	agents  *agentstate.Store
	journal *log.Logger
	logger  *slog.Logger
	closers []io.Closer
}

// resolveRoot picks the project root: --dir, then hint (a hook payload's
// cwd), then the working directory. From there it walks up to the nearest
// directory holding .agentlock/ so hooks fired in subdirectories share one
// store; without one the starting directory is used.
func resolveRoot(hint string) (string, error) {
	start := dirFlag
	if start == "" {
		start = hint
	}
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		start = wd
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolving project root: %w", err)
	}

	for dir := abs; ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, config.Dir)); err == nil && info.IsDir() {
			return dir, nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// openProject loads config and opens every store under root.
func openProject(root string) (*project, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	var mirror io.Writer
	if verbose {
		mirror = os.Stderr
	}
	logger, logFile, err := log.NewDiagnostic(root, cfg.Log.Level, mirror)
	if err != nil {
		return nil, err
	}
	p := &project{root: root, cfg: cfg, logger: logger, closers: []io.Closer{logFile}}

	p.store, err = lockstore.Open(cfg.DatabasePath(root))
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, p.store)

	p.coord = coordinator.New(p.store,
		coordinator.WithTTL(cfg.LockTTL()),
		coordinator.WithRoot(root),
	)

	p.agents, err = agentstate.NewStore(cfg.AgentStatePath(root))
	if err != nil {
		p.Close()
		return nil, err
	}

	p.journal, err = log.NewLogger(root)
	if err != nil {
		p.Close()
		return nil, err
	}

	logger.Debug("project opened", "root", root, "database", cfg.DatabasePath(root))
	return p, nil
}

// Close releases the store handles. Errors are joined.
func (p *project) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *project) notifier() notify.Notifier {
	if p.cfg.Orchestrator.URL != "" {
		return notify.NewHTTPNotifier(p.cfg.Orchestrator.URL, p.cfg.OrchestratorTimeout())
	}
	return notify.JournalNotifier{Journal: p.journal}
}

// hookRunner wires the project's stores into a hook.Runner.
func (p *project) hookRunner(out *ui.Printer) (*hook.Runner, error) {
	reg, err := p.cfg.ToolRegistry()
	if err != nil {
		return nil, err
	}
	return &hook.Runner{
		Locks:              p.coord,
		Agents:             p.agents,
		Journal:            p.journal,
		Logger:             p.logger,
		Out:                out,
		Tools:              p.cfg.ToolSets(),
		Registry:           reg,
		DefaultAgentName:   p.cfg.Agents.DefaultName,
		CleanupProbability: p.cfg.Locks.CleanupProbability,
		HistoryLimit:       p.cfg.History.Limit,
		Notifier:           p.notifier(),
	}, nil
}

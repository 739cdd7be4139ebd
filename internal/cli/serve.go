// serve.go implements "agentlock serve", the long-running status API.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gren-lsp/agentlock/internal/coordinator"
	"github.com/gren-lsp/agentlock/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve lock status, agent status and metrics over HTTP",
	Long: `Run the status API (/health, /locks, /check_lock, /agents, /metrics) and
reclaim expired locks on the configured cleanup_schedule. Runs until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddrFlag string

func init() {
	serveCmd.Flags().StringVar(&serveAddrFlag, "addr", "", "Listen address (default: serve.addr from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := openCurrentProject()
	if err != nil {
		return err
	}
	defer p.Close()

	addr := serveAddrFlag
	if addr == "" {
		addr = p.cfg.Serve.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, p, addr, ui.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()))
}

// serve runs the status server until ctx is done.
func serve(ctx context.Context, p *project, addr string, out *ui.Printer) error {
	reg := prometheus.NewRegistry()
	coord := coordinator.New(p.store,
		coordinator.WithTTL(p.cfg.LockTTL()),
		coordinator.WithRoot(p.root),
		coordinator.WithMetrics(coordinator.NewMetrics(reg)),
	)
	reg.MustRegister(coordinator.NewStateCollector(coord, p.agents))

	srv, err := coordinator.NewServer(addr, coord, p.agents, reg, p.logger)
	if err != nil {
		return err
	}
	if schedule := p.cfg.Serve.CleanupSchedule; schedule != "" {
		if err := srv.StartReaper(schedule); err != nil {
			_ = srv.Shutdown(context.Background())
			return err
		}
	}
	out.Success("Serving on http://%s", srv.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	p.logger.Info("status server stopped", "addr", srv.Addr())
	return err
}

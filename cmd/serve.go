package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tracelink/internal/api"
	"github.com/joescharf/tracelink/internal/daemon"
	"github.com/joescharf/tracelink/internal/git"
	"github.com/joescharf/tracelink/internal/githubevent"
	"github.com/joescharf/tracelink/internal/logging"
	"github.com/joescharf/tracelink/internal/store"
	"github.com/joescharf/tracelink/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive GitHub webhooks and reconcile pull request events",
	Long: `Start an HTTP server that accepts GitHub pull_request webhooks on
/webhook/github and reconciles each event with Jira in the background.

Also serves /health and the /api/v1/validate and /api/v1/extract
endpoints. Set server.webhook_secret to verify X-Hub-Signature-256.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return serveRun(ctx)
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the webhook server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default :8080)")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	serveCmd.AddCommand(serveStatusCmd)
	serveCmd.AddCommand(serveStopCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the lock held by a running server.
func pidFile() (*daemon.PIDFile, error) {
	dir, err := configDirFunc()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	return daemon.NewPIDFile(filepath.Join(dir, "tracelink-serve.pid")), nil
}

func serveStatusRun() error {
	pf, err := pidFile()
	if err != nil {
		return err
	}
	if pid, running := pf.IsRunning(); running {
		ui.Success("Server running (PID %d)", pid)
		return nil
	}
	ui.Info("Server not running")
	return nil
}

func serveStopRun() error {
	pf, err := pidFile()
	if err != nil {
		return err
	}
	pid, running := pf.IsRunning()
	if !running {
		return errors.New("server is not running")
	}
	if dryRun {
		ui.DryRunMsg("Would stop server (PID %d)", pid)
		return nil
	}
	if err := pf.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop server: %w", err)
	}
	ui.Success("Sent stop signal to PID %d", pid)
	return nil
}

func serveRun(ctx context.Context) error {
	c, err := getConfig()
	if err != nil {
		return err
	}
	if err := c.RequireTracker(); err != nil {
		return err
	}

	shutdown, err := startTelemetry(ctx, c)
	if err != nil {
		return err
	}
	defer shutdown()

	pf, err := pidFile()
	if err != nil {
		return err
	}
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() { _ = pf.Release() }()

	logger := newLogger(c)
	rec := buildReconciler(c, logger, !dryRun)

	opts := []api.Option{
		api.WithSecret(c.Server.WebhookSecret),
		api.WithCommitSource(ghCommits{ghClient}),
		api.WithLogger(logger),
		api.WithRequestTimeout(c.Server.RequestTimeout),
	}
	if c.Server.WebhookSecret == "" {
		logger.Warn("server.webhook_secret is empty, webhook signatures are not verified")
	}
	if s, err := getStore(); err != nil {
		logger.Warn("delivery dedupe limited to memory", "error", err)
	} else {
		opts = append(opts, api.WithDeliveryStore(s))
		go pruneDeliveries(ctx, s, logger)
	}

	srv := api.NewHTTPServer(c.Server.Addr, api.NewServer(c.Grammar(), rec, opts...), logger)
	ui.Info("Listening on %s", c.Server.Addr)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// pruneDeliveries drops delivery ids older than the dedupe window once an hour.
func pruneDeliveries(ctx context.Context, s *store.SQLiteStore, logger *logging.Logger) {
	ticker := time.NewTicker(githubevent.DeliveryWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.PruneDeliveries(ctx, now.Add(-githubevent.DeliveryWindow))
			if err != nil {
				logger.Warn("prune deliveries", "error", err)
				continue
			}
			logger.Debug("pruned deliveries", "count", n)
		}
	}
}

// ghCommits adapts the gh CLI client to the webhook commit source.
type ghCommits struct {
	gh git.GitHubClient
}

func (g ghCommits) PullRequestCommits(repo, number string) ([]validate.Commit, error) {
	commits, err := g.gh.PullRequestCommits(repo, number)
	if err != nil {
		return nil, err
	}
	return fromGitCommits(commits), nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/git"
	"github.com/joescharf/tracelink/internal/githubevent"
	"github.com/joescharf/tracelink/internal/jira"
	"github.com/joescharf/tracelink/internal/logging"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/reconcile"
	"github.com/joescharf/tracelink/internal/telemetry"
	"github.com/joescharf/tracelink/internal/tracker"
)

var (
	syncEvent       string
	syncCommitsFile string
	syncBase        string
	syncStrict      bool
	syncJSON        bool
	syncNoHistory   bool
)

// newAdapter builds the tracker client; replaceable in tests.
var newAdapter = func(c config.Config) tracker.Adapter {
	return jira.NewClient(c.Jira)
}

// ghClient fetches pull request commits when git history is unavailable.
var ghClient git.GitHubClient = git.NewGitHubClient()

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile one pull request event with Jira",
	Long: `Apply one pull request lifecycle event to the referenced Jira issues:
link the pull request, then move the issues to In Review (opened) or
Done (merged).

The event is read from --event or $GITHUB_EVENT_PATH, either a GitHub
pull_request payload or a tracelink JSON event. Tracker failures are
reported but do not fail the command unless --strict is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return syncRun(ctx)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncEvent, "event", "", "Event file (default $GITHUB_EVENT_PATH)")
	syncCmd.Flags().StringVar(&syncCommitsFile, "commits-file", "", "File of commit messages to use instead of git history")
	syncCmd.Flags().StringVar(&syncBase, "base", "", "Base ref for git history (default origin/<base branch>)")
	syncCmd.Flags().BoolVar(&syncStrict, "strict", false, "Exit non-zero when any issue fails to reconcile")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the result as JSON")
	syncCmd.Flags().BoolVar(&syncNoHistory, "no-history", false, "Do not record the event in the local history")
	rootCmd.AddCommand(syncCmd)
}

func syncRun(ctx context.Context) error {
	c, err := getConfig()
	if err != nil {
		return err
	}
	if err := c.RequireTracker(); err != nil {
		return err
	}

	path := syncEvent
	if path == "" {
		path = os.Getenv("GITHUB_EVENT_PATH")
	}
	if path == "" {
		return errors.New("no event: pass --event or set GITHUB_EVENT_PATH")
	}

	ev, _, err := githubevent.ReadFile(path)
	if errors.Is(err, githubevent.ErrIgnoredAction) {
		ui.Info("Nothing to do: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	if len(ev.CommitMessages) == 0 {
		msgs, err := eventCommitMessages(ev)
		if err != nil {
			ui.Warning("Commit messages unavailable, using branch and title only: %v", err)
		}
		ev.CommitMessages = msgs
	}

	shutdown, err := startTelemetry(ctx, c)
	if err != nil {
		return err
	}
	defer shutdown()

	rec := buildReconciler(c, newLogger(c), !syncNoHistory && !dryRun)
	res, err := rec.Reconcile(ctx, ev)
	if err != nil {
		return err
	}

	if syncJSON {
		if err := ui.JSON(res); err != nil {
			return err
		}
	} else if err := ui.EventResult(res); err != nil {
		return err
	}

	failures := res.Failures()
	if len(failures) == 0 {
		return nil
	}
	keys := make([]string, len(failures))
	for i, f := range failures {
		keys[i] = f.Key.String()
	}
	if syncStrict {
		return fmt.Errorf("%d issue(s) failed to reconcile: %s", len(failures), strings.Join(keys, ", "))
	}
	ui.Warning("%d issue(s) failed to reconcile: %s", len(failures), strings.Join(keys, ", "))
	return nil
}

// buildReconciler wires the tracker adapter with instrumentation, the dry-run
// wrapper and, when record is set, the local history store.
func buildReconciler(c config.Config, logger *logging.Logger, record bool) *reconcile.Reconciler {
	adapter := telemetry.WrapAdapter(newAdapter(c))
	if dryRun {
		adapter = tracker.NewDryRun(adapter, logger.Logger)
	}

	opts := []reconcile.Option{reconcile.WithLogger(logger)}
	if record {
		s, err := getStore()
		if err != nil {
			logger.Warn("event history disabled", "error", err)
		} else {
			opts = append(opts, reconcile.WithRecorder(s))
		}
	}
	return reconcile.New(c.Grammar(), adapter, reconcile.SettingsFrom(c), opts...)
}

// eventCommitMessages finds commit messages for ev from --commits-file, the
// local git history or the gh CLI, in that order.
func eventCommitMessages(ev models.LifecycleEvent) ([]string, error) {
	if syncCommitsFile != "" {
		return readMessagesFile(syncCommitsFile)
	}

	base := syncBase
	if base == "" && ev.BaseBranch != "" {
		base = "origin/" + ev.BaseBranch
	}
	var errs []error
	if base != "" {
		commits, err := gitClient.Commits(".", base, "HEAD")
		if err == nil {
			return messagesOf(fromGitCommits(commits)), nil
		}
		errs = append(errs, err)
	}

	commits, err := ghClient.PullRequestCommits(ev.Repository, ev.PullRequestID)
	if err == nil {
		msgs := make([]string, len(commits))
		for i, c := range commits {
			msgs[i] = c.Message
		}
		return msgs, nil
	}
	errs = append(errs, err)
	return nil, errors.Join(errs...)
}

// startTelemetry initialises OTel when enabled and returns its shutdown.
func startTelemetry(ctx context.Context, c config.Config) (func(), error) {
	if err := telemetry.Init(ctx, c.OTelEnabled, "tracelink", buildVersion); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return func() { telemetry.Shutdown(context.Background()) }, nil
}

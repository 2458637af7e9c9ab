package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/reviewgate/internal/config"
	httpapi "github.com/fyrsmithlabs/reviewgate/internal/http"
	"github.com/fyrsmithlabs/reviewgate/internal/ignore"
	"github.com/fyrsmithlabs/reviewgate/internal/monitor"
	"github.com/fyrsmithlabs/reviewgate/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewgate/internal/watch"
)

var (
	watchOpts runOptions
	watchTUI  bool
	debounce  time.Duration
	httpPort  int
)

func init() {
	rootCmd.AddCommand(watchCmd)
	addRunFlags(watchCmd, &watchOpts)
	watchCmd.Flags().BoolVar(&watchTUI, "tui", false, "show the live dashboard")
	watchCmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a re-run (overrides watch.debounce)")
	watchCmd.Flags().IntVar(&httpPort, "http-port", 0, "serve /health, /metrics and /api/v1/status on this port (overrides watch.http_port)")
}

// applyWatchFlags layers explicitly set watch flags over the config.
func applyWatchFlags(cfg *config.Config, changed func(string) bool) error {
	if changed("debounce") {
		cfg.Watch.Debounce = config.Duration(debounce)
	}
	if changed("http-port") {
		cfg.Watch.HTTPPort = httpPort
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}
	return nil
}

// watchCmd re-runs the gates on every change
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run quality gates when files change",
	Long: `Run the quality gates once, then again after every burst of file changes,
until interrupted. Paths matched by .gitignore, .reviewgateignore and the
built-in patterns (virtualenvs, caches, vendor trees) do not trigger runs.

Examples:
  # Plain output, strict policy
  reviewgate watch --skip-review

  # Live dashboard with the status API on :9464
  reviewgate watch --tui --http-port 9464`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := watchOpts.apply(cfg, cmd.Flags().Changed); err != nil {
			return err
		}
		if err := applyWatchFlags(cfg, cmd.Flags().Changed); err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				cmd.PrintErrf("Warning: %v\n", err)
			}
		}()

		matcher, err := ignore.NewDefaultParser().Matcher(cfg.Project.Path)
		if err != nil {
			return usageError(err)
		}
		w, err := watch.New(cfg.Project.Path, matcher, cfg.Watch.Debounce.Duration())
		if err != nil {
			return usageError(err)
		}
		defer w.Close()
		w.SetLogger(a.logger.Underlying())

		// The status server lives exactly as long as the watch loop.
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, ctx := errgroup.WithContext(ctx)
		if cfg.Watch.HTTPPort > 0 {
			srv, err := httpapi.NewServer(a.status, a.registry, a.logger.Underlying(), &httpapi.Config{
				Host: cfg.Watch.HTTPHost,
				Port: cfg.Watch.HTTPPort,
			})
			if err != nil {
				return err
			}
			cmd.PrintErrf("Status API on http://%s\n", srv.Addr())
			g.Go(func() error { return srv.Serve(ctx) })
		}
		g.Go(func() error {
			defer cancel()
			if watchTUI {
				return watchDashboard(ctx, a, w)
			}
			return watchPlain(ctx, a, w, cmd.OutOrStdout(), cmd.ErrOrStderr())
		})
		return g.Wait()
	},
}

// watchPlain prints a full run per change batch.
func watchPlain(ctx context.Context, a *app, w *watch.Watcher, out, progressOut io.Writer) error {
	runOnce := func(ctx context.Context) error {
		err := executeRun(ctx, a, runOptions{}, out, progressOut)
		var ee *exitError
		if errors.As(err, &ee) && ee.code == exitGateFailure {
			return nil
		}
		return err
	}

	if err := runOnce(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nWatching %s for changes (Ctrl+C to stop)\n", a.cfg.Project.Path)

	var fatal error
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := w.Run(watchCtx, func(ctx context.Context, changed []string) {
		fmt.Fprintf(out, "\nChanged: %s\n", summarizePaths(changed))
		if err := runOnce(ctx); err != nil && ctx.Err() == nil {
			fatal = err
			cancel()
		}
	})
	if fatal != nil {
		return fatal
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchDashboard drives the bubbletea dashboard from watcher batches and
// rerun requests.
func watchDashboard(ctx context.Context, a *app, w *watch.Watcher) error {
	policy, err := orchestrator.ParsePolicy(a.cfg.Policy.Mode)
	if err != nil {
		return usageError(err)
	}
	descriptors, err := a.cfg.Descriptors()
	if err != nil {
		return usageError(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One pending trigger is enough: a run started later sees every change.
	triggers := make(chan []string, 1)
	trigger := func(changed []string) {
		select {
		case triggers <- changed:
		default:
		}
	}

	model := monitor.NewModel(a.cfg.Project.Path, policy, func() { trigger(nil) })
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx, func(_ context.Context, changed []string) { trigger(changed) })
	})
	g.Go(func() error {
		trigger(nil)
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case changed := <-triggers:
				p.Send(monitor.RunStartedMsg{Total: len(descriptors), Changed: changed, At: time.Now()})
				outcome, err := a.runGates(gctx, func(pr orchestrator.Progress) {
					p.Send(monitor.GateMsg(pr))
				})
				if err != nil && gctx.Err() == nil {
					a.logger.Warn(gctx, "watch run failed", zap.Error(err))
				}
				p.Send(monitor.RunFinishedMsg{Outcome: outcome, Err: err})
			}
		}
	})

	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	return nil
}

const maxPathsShown = 5

func summarizePaths(paths []string) string {
	if len(paths) <= maxPathsShown {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(paths[:maxPathsShown], ", "), len(paths)-maxPathsShown)
}

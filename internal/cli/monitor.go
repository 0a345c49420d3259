package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"netaccess/internal/api"
	"netaccess/internal/history"
	"netaccess/internal/monitor"
	"netaccess/internal/notify"
	"netaccess/internal/portal"
	"netaccess/internal/storage"
	"netaccess/internal/tui"
	pkgerrors "netaccess/pkg/errors"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Keep this machine's address approved, re-approving whenever it lapses",
	Long: `Check the portal status periodically and approve this machine's address
whenever it is not active.

The interactive screen shows the current status and lets you wake the monitor
early (w) or retry after an error (r). With --quiet the monitor runs headless,
logs every step and exits on the first error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appInstance.Config
		log := appInstance.Logger

		suspend := cfg.SuspendDuration
		if cmd.Flags().Changed("suspend") {
			suspend, _ = cmd.Flags().GetDuration("suspend")
			if suspend < monitor.MinSuspend {
				return fmt.Errorf("suspend duration %s is less than the minimum %s: %w",
					suspend, monitor.MinSuspend, pkgerrors.ErrSuspendTooShort)
			}
		}
		listen := cfg.API.Listen
		if cmd.Flags().Changed("listen") {
			listen, _ = cmd.Flags().GetString("listen")
		}
		quiet, _ := cmd.Flags().GetBool("quiet")

		tier, err := cfg.Tier()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		user, err := resolveUser(ctx, cmd)
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		runLog := log.WithField("run_id", runID)
		if err := appInstance.Storage.SetSetting(ctx, storage.SettingLastRunID, runID); err != nil {
			runLog.WithError(err).Warn("failed to store run id")
		}

		notifier := notify.New(cfg.Notify.URLs, notify.ShoutrrrSender{}, runLog)
		notifier.Start()
		defer notifier.Stop()

		pruner, err := history.NewPruner(appInstance.Storage, cfg.History.Retention, history.DefaultPruneInterval, runLog)
		if err != nil {
			return err
		}
		if err := pruner.Start(ctx); err != nil {
			return err
		}
		defer pruner.Stop()

		recorder := appInstance.Recorder(
			history.WithRun(runID),
			history.WithNotifier(notifier),
			history.WithLogger(runLog),
		)

		return runMonitor(ctx, monitorRun{
			recorder: recorder,
			config: monitor.Config{
				User:    user,
				Tier:    tier,
				Suspend: suspend,
				RunID:   runID,
			},
			listen: listen,
			quiet:  quiet,
			log:    runLog,
		})
	},
}

type monitorRun struct {
	recorder monitor.Portal
	config   monitor.Config
	listen   string
	quiet    bool
	log      logrus.FieldLogger
}

// runMonitor runs the monitor, its consumer and the optional API until the
// user quits, a signal arrives or one of them fails.
func runMonitor(ctx context.Context, r monitorRun) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	events := monitor.NewEvents(monitor.DefaultEventsCapacity)
	status := monitor.NewLatest[portal.SystemStatus]()
	states := monitor.NewLatest[monitor.State]()

	mon := monitor.New(r.recorder, r.log)
	if err := mon.Start(runCtx, r.config, events, status); err != nil {
		return err
	}

	g.Go(func() error {
		<-mon.Done()
		cancel()
		err := mon.Err()
		// The headless consumer reports the cause itself.
		if errors.Is(err, pkgerrors.ErrRetryAbandoned) {
			return nil
		}
		return err
	})

	if r.listen != "" {
		srv := api.NewServer(api.Options{
			Listen: r.listen,
			Status: status,
			States: states,
			Store:  appInstance.Storage,
			Logger: r.log,
			Now:    time.Now,
		})
		g.Go(func() error {
			return srv.Run(runCtx)
		})
	}

	if r.quiet {
		g.Go(func() error {
			return monitor.Drain(events, states, r.log)
		})
	} else {
		g.Go(func() error {
			p := tui.NewProgram(runCtx, tui.Deps{
				Cancel:   cancel,
				Events:   events,
				Status:   status,
				States:   states,
				Storage:  appInstance.Storage,
				Username: r.config.User.Name(),
			})
			_, err := p.Run()
			cancel()
			if err != nil {
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

func init() {
	monitorCmd.Flags().DurationP("suspend", "s", 0, "time to sleep between checks while active (default: suspend_duration from the config)")
	monitorCmd.Flags().BoolP("quiet", "q", false, "run without the interactive screen")
	monitorCmd.Flags().StringP("listen", "l", "", "serve the status API on this address, e.g. 127.0.0.1:8089")

	rootCmd.AddCommand(monitorCmd)
}

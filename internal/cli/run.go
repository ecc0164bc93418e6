package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/engine"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run sync sessions on a schedule",
		Long: `Start the sync daemon for the configured site.

A session runs at startup and then every sync.interval. Sending SIGUSR1
requests an extra session immediately; it is queued behind any session
already in progress. SIGINT or SIGTERM stops the daemon after the current
session.

Example:
  storesync run --config ./storesync.yaml
  kill -USR1 $(pidof storesync)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, cmd)
		},
	}

	return cmd
}

func runDaemon(opts *RootOptions, cmd *cobra.Command) error {
	s, err := openSite(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	coord, err := s.coordinator()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	go triggerOnSignal(ctx, coord, s)

	fmt.Fprintf(cmd.OutOrStdout(), "Sync daemon started for site %s (%s).\n", s.cfg.Site.ID, s.cfg.Site.Role)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "coordinator error", err)
	}

	s.logger.Info("sync daemon stopped")
	return nil
}

// triggerOnSignal runs a manual session for every SIGUSR1 until ctx ends.
func triggerOnSignal(ctx context.Context, coord *engine.Coordinator, s *site) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			s.logger.Info("manual session requested")
			sess, err := coord.TriggerNow(ctx)
			if err != nil {
				s.logger.Warn("manual session failed", "session_id", sess.ID, "error", err)
				continue
			}
			s.logger.Info("manual session finished", "session_id", sess.ID, "state", sess.State)
		}
	}
}

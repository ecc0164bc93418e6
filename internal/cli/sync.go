package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/syncerr"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	NoRetry bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync session now",
		Long: `Run a single sync session for the configured site and report its outcome.

A remote site pulls, integrates and pushes. A central site integrates the
records its peers have pushed. Transport failures are retried with the
configured backoff unless --no-retry is given.

Examples:
  storesync sync --config ./storesync.yaml
  storesync sync --config ./storesync.yaml --no-retry --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoRetry, "no-retry", false, "do not retry after a transport failure")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	s, err := openSite(opts.RootOptions, cmd)
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

	var sess store.SyncSession
	if opts.NoRetry {
		sess, err = coord.RunSession(ctx)
	} else {
		sess, err = coord.RunWithRetry(ctx)
	}

	out := newFormatter(opts.RootOptions, cmd)
	siteID := s.cfg.Site.ID
	switch {
	case errors.Is(err, engine.ErrSessionInProgress):
		_ = out.Error(siteID, "IN_PROGRESS", err.Error(), nil)
		return WrapExitError(ExitFailure, "sync not started", err)
	case err != nil:
		code := string(syncerr.KindOf(err))
		if code == "" {
			code = "SESSION"
		}
		_ = out.Error(siteID, code, err.Error(), sess)
		return WrapExitError(ExitFailure, "sync session failed", err)
	}
	return out.Success(siteID, sess, formatSession(sess))
}

// formatSession renders one session as a short text block.
func formatSession(sess store.SyncSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%s, %s)\n", sess.ID, sess.Role, sess.State)
	fmt.Fprintf(&b, "  started:     %s\n", sess.StartedAt.Format(time.RFC3339))
	if sess.FinishedAt != nil {
		fmt.Fprintf(&b, "  duration:    %s\n", sess.FinishedAt.Sub(sess.StartedAt).Round(time.Millisecond))
	}
	writePhase(&b, "pull", sess.Pull)
	writePhase(&b, "integration", sess.Integration)
	writePhase(&b, "push", sess.Push)
	if sess.Error != "" {
		fmt.Fprintf(&b, "  error:       %s\n", sess.Error)
	}
	return b.String()
}

func writePhase(b *strings.Builder, name string, p store.Phase) {
	if p.StartedAt == nil {
		return
	}
	fmt.Fprintf(b, "  %-12s %d done, %d failed of %d\n", name+":", p.Done, p.Failed, p.Total)
}

package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/engine"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Sessions int
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent sessions, cursors and buffer counts",
		Long: `Show the sync status of the configured site, read from its database.

Works whether or not a daemon is running against the same database.

Examples:
  storesync status --config ./storesync.yaml
  storesync status --config ./storesync.yaml --sessions 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Sessions, "sessions", "n", 5, "number of recent sessions to show")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	s, err := openSite(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := engine.ReadStatus(context.Background(), s.st, s.cfg.Site.ID, opts.Sessions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read status", err)
	}
	status.Role = engine.Role(s.cfg.Site.Role)

	return newFormatter(opts.RootOptions, cmd).Success(s.cfg.Site.ID, status, formatStatus(status))
}

func formatStatus(st engine.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Site %s (%s)\n", st.SiteID, st.Role)
	if st.InProgress {
		fmt.Fprintf(&b, "  session in progress")
		if st.LeaseHolder != "" {
			fmt.Fprintf(&b, " (held by %s)", st.LeaseHolder)
		}
		b.WriteString("\n")
	}
	if len(st.ActiveStoreIDs) > 0 {
		fmt.Fprintf(&b, "  active stores: %s\n", strings.Join(st.ActiveStoreIDs, ", "))
	}
	fmt.Fprintf(&b, "  changelog head: %d\n", st.ChangelogHead)

	names := make([]string, 0, len(st.Cursors))
	for name := range st.Cursors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  cursor %s: %d\n", name, st.Cursors[name])
	}

	fmt.Fprintf(&b, "  buffer: %d total, %d integrated, %d pending, %d failing, %d quarantined\n",
		st.Buffer.Total, st.Buffer.Integrated, st.Buffer.Pending, st.Buffer.Failing, st.Buffer.Quarantined)

	if len(st.Sessions) == 0 {
		b.WriteString("No sessions yet.\n")
		return b.String()
	}
	b.WriteString("\n")
	for _, sess := range st.Sessions {
		b.WriteString(formatSession(sess))
	}
	return b.String()
}

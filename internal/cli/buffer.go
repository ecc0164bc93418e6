package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/store"
)

// BufferOptions holds flags for the buffer subcommands.
type BufferOptions struct {
	*RootOptions
	Limit int
}

// BufferEntry is the CLI view of a buffered record that failed integration.
type BufferEntry struct {
	ID           int64     `json:"id"`
	SourceSite   string    `json:"source_site"`
	Table        string    `json:"table"`
	RecordID     string    `json:"record_id"`
	Action       string    `json:"action"`
	PeerSequence int64     `json:"peer_sequence"`
	ReceivedAt   time.Time `json:"received_at"`
	Attempts     int       `json:"attempts"`
	Quarantined  bool      `json:"quarantined"`
	LastError    string    `json:"last_error"`
}

// NewBufferCommand creates the buffer command group.
func NewBufferCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BufferOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect and release failed sync buffer records",
		Long: `Inspect records that failed integration and release quarantined ones.

A record is quarantined after sync.max_attempts failed integrations and is
skipped by later sessions until released.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List failed and quarantined records",
		Example: `  storesync buffer list --config ./storesync.yaml
  storesync buffer list --config ./storesync.yaml --limit 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBufferList(opts, cmd)
		},
	}
	list.Flags().IntVar(&opts.Limit, "limit", 100, "maximum records to list (0 for all)")

	release := &cobra.Command{
		Use:   "release [id...]",
		Short: "Return quarantined records to the pending set",
		Long: `Return quarantined records to the pending set with a fresh attempt budget.

With no ids every quarantined record is released. Released records are
retried by the next session.`,
		Example: `  storesync buffer release --config ./storesync.yaml
  storesync buffer release --config ./storesync.yaml 17 42`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBufferRelease(opts, cmd, args)
		},
	}

	cmd.AddCommand(list, release)
	return cmd
}

func runBufferList(opts *BufferOptions, cmd *cobra.Command) error {
	s, err := openSite(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.st.FailedRecords(context.Background(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read buffer", err)
	}

	entries := make([]BufferEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, toBufferEntry(r))
	}
	return newFormatter(opts.RootOptions, cmd).Success(s.cfg.Site.ID, entries, formatBufferEntries(entries))
}

func runBufferRelease(opts *BufferOptions, cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid buffer record id %q", arg), err)
		}
		ids = append(ids, id)
	}

	s, err := openSite(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.st.ReleaseQuarantined(context.Background(), ids...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to release records", err)
	}
	s.logger.Info("released quarantined records", "count", n)

	result := map[string]int64{"released": n}
	return newFormatter(opts.RootOptions, cmd).Success(s.cfg.Site.ID, result, fmt.Sprintf("Released %d quarantined record(s).\n", n))
}

func toBufferEntry(r store.BufferRecord) BufferEntry {
	return BufferEntry{
		ID:           r.ID,
		SourceSite:   r.SourceSite,
		Table:        r.TableName,
		RecordID:     r.RecordID,
		Action:       string(r.Action),
		PeerSequence: r.PeerSequence,
		ReceivedAt:   r.ReceivedAt,
		Attempts:     r.Attempts,
		Quarantined:  r.Quarantined,
		LastError:    r.LastError,
	}
}

func formatBufferEntries(entries []BufferEntry) string {
	if len(entries) == 0 {
		return "No failed records.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		state := "failing"
		if e.Quarantined {
			state = "quarantined"
		}
		fmt.Fprintf(&b, "#%d %s %s/%s seq=%d attempts=%d %s\n", e.ID, e.Action, e.Table, e.RecordID, e.PeerSequence, e.Attempts, state)
		fmt.Fprintf(&b, "    %s\n", e.LastError)
	}
	return b.String()
}

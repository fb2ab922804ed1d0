package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stowaway/internal/engine"
	"github.com/roach88/stowaway/internal/store"
)

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List queued mutations, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.store.AllEntries(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "read queue failed", err)
			}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				rows[i] = []string{
					e.ID,
					string(e.Kind),
					e.EntityID,
					e.EnqueuedAt.Format(time.RFC3339Nano),
					strconv.Itoa(e.RetryCount),
				}
			}
			return rootOpts.formatter(cmd).Table(entries, []string{"ENTRY", "KIND", "RECORD", "ENQUEUED", "ATTEMPTS"}, rows, 4)
		},
	}
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send queued mutations to the remote now",
		Long: `Send queued mutations to the remote now, ignoring any retry backoff.

A rejected batch leaves the queue as it was and exits with status 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.Flush(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "flush failed", err)
			}
			f := rootOpts.formatter(cmd)
			if res.Err != nil {
				f.VerboseLog("batch %s rejected: %v", res.BatchID, res.Err)
				return WrapExitError(ExitFailure, "flush failed", res.Err)
			}
			if rootOpts.Format == "json" {
				return f.Success(res)
			}
			return f.Success(flushSummary(res))
		},
	}
}

func flushSummary(res engine.FlushResult) string {
	if res.Entries == 0 {
		return "nothing to flush"
	}
	parts := []string{fmt.Sprintf("sent %d", res.Sent)}
	if res.DeletesSent > 0 {
		parts = append(parts, fmt.Sprintf("deleted %d", res.DeletesSent))
	}
	if res.DeletesDropped > 0 {
		parts = append(parts, fmt.Sprintf("dropped %d deletes", res.DeletesDropped))
	}
	if res.DeletesSuperseded > 0 {
		parts = append(parts, fmt.Sprintf("skipped %d superseded deletes", res.DeletesSuperseded))
	}
	return fmt.Sprintf("flushed %d entries: %s", res.Cleared, strings.Join(parts, ", "))
}

// Status is the output of the status command.
type Status struct {
	Online      bool      `json:"online"`
	Syncing     bool      `json:"syncing"`
	Pending     int       `json:"pending"`
	Parked      int       `json:"parked"`
	Records     int       `json:"records"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at"`
	Database    string    `json:"database"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			st := a.engine.State()
			s := Status{
				Online:     st.Online,
				Syncing:    st.Syncing,
				Pending:    st.PendingCount,
				LastSyncAt: st.LastSyncAt,
				Database:   a.store.Path(),
			}
			if s.Records, err = a.store.Count(ctx, store.Records); err != nil {
				return WrapExitError(ExitFailure, "status failed", err)
			}
			parked, err := a.store.ParkedEntries(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "status failed", err)
			}
			s.Parked = len(parked)
			if last, err := a.store.LastFailure(ctx); err == nil {
				s.LastError = last.LastError
				s.LastErrorAt = last.LastAttemptAt
			} else if !errors.Is(err, store.ErrNotFound) {
				return WrapExitError(ExitFailure, "status failed", err)
			}

			rows := [][]string{
				{"online", strconv.FormatBool(s.Online)},
				{"pending", strconv.Itoa(s.Pending)},
				{"parked", strconv.Itoa(s.Parked)},
				{"records", strconv.Itoa(s.Records)},
				{"last sync", formatTime(s.LastSyncAt)},
				{"last error", s.LastError},
				{"database", s.Database},
			}
			return rootOpts.formatter(cmd).Table(s, []string{"FIELD", "VALUE"}, rows)
		},
	}
}

// NewFailedCommand creates the failed command and its subcommands.
func NewFailedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List entries parked after exhausting their retries",
		Long: `List entries parked after exhausting their retries.

Parked entries are not flushed until returned to the queue with
"stow failed retry" or dropped with "stow failed discard".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			parked, err := a.engine.FailedEntries(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "read parked entries failed", err)
			}
			rows := make([][]string, len(parked))
			for i, p := range parked {
				rows[i] = []string{
					p.Entry.ID,
					string(p.Entry.Kind),
					p.Entry.EntityID,
					strconv.Itoa(p.Attempt.Attempts),
					truncate(p.Attempt.LastError, 40),
				}
			}
			return rootOpts.formatter(cmd).Table(parked, []string{"ENTRY", "KIND", "RECORD", "ATTEMPTS", "LAST ERROR"}, rows, 3)
		},
	}

	cmd.AddCommand(newResolveCommand(rootOpts, "retry", "Return a parked entry to the queue",
		func(a *app, cmd *cobra.Command, id string) error { return a.engine.RetryEntry(cmd.Context(), id) }))
	cmd.AddCommand(newResolveCommand(rootOpts, "discard", "Drop a parked entry without sending it",
		func(a *app, cmd *cobra.Command, id string) error { return a.engine.DiscardEntry(cmd.Context(), id) }))

	return cmd
}

func newResolveCommand(rootOpts *RootOptions, name, short string, fn func(*app, *cobra.Command, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <entry-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			switch err := fn(a, cmd, id); {
			case errors.Is(err, store.ErrNotFound):
				return WrapExitError(ExitFailure, fmt.Sprintf("no queue entry %q", id), err)
			case errors.Is(err, engine.ErrEntryNotParked):
				return WrapExitError(ExitCommandError, fmt.Sprintf("entry %q is still pending", id), err)
			case err != nil:
				return WrapExitError(ExitFailure, name+" failed", err)
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf("%s: %s", name, id))
		},
	}
}

// NewHydrateCommand creates the hydrate command.
func NewHydrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate",
		Short: "Load every record from the remote into the local store",
		Long: `Load every record from the remote into the local store.

Records with queued local mutations keep their local version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if a.client == nil {
				return WrapExitError(ExitCommandError, "hydrate needs a remote", errNoRemote)
			}
			res, err := a.engine.Hydrate(cmd.Context(), a.client.FetchAll)
			if err != nil {
				return WrapExitError(ExitFailure, "hydrate failed", err)
			}
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(res)
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf(
				"fetched %d records: stored %d, kept %d with local changes", res.Fetched, res.Stored, res.Skipped))
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}

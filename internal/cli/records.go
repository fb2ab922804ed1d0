package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stowaway/internal/record"
)

// WriteResult is the output of put and rm.
type WriteResult struct {
	ID      string `json:"id"`
	Queued  bool   `json:"queued"`
	Pending int    `json:"pending"`
}

func (r WriteResult) String() string {
	how := "sent"
	if r.Queued {
		how = "queued"
	}
	return fmt.Sprintf("%s %s (%d pending)", r.ID, how, r.Pending)
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put [json]",
		Short: "Write a record",
		Long: `Write a record to the local store and sync it to the remote.

The record is a JSON object with a string "id" field, given as an argument or
on stdin. An "owner" field, when present, is indexed for list --owner.

Example:
  stow put '{"id":"n1","title":"Draft","owner":"ana"}'
  cat note.json | stow put`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return putRecord(rootOpts, args, cmd)
		},
	}
}

func putRecord(opts *RootOptions, args []string, cmd *cobra.Command) error {
	var data []byte
	if len(args) == 1 && args[0] != "-" {
		data = []byte(args[0])
	} else {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return WrapExitError(ExitCommandError, "failed to read stdin", err)
		}
	}

	doc, err := record.NewDocument(data)
	if err != nil {
		return invalidInput("invalid record: %v", err)
	}

	a, err := openApp(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Write(cmd.Context(), doc); err != nil {
		return WrapExitError(ExitFailure, "write failed", err)
	}
	return opts.formatter(cmd).Success(a.writeResult(cmd, doc.ID))
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, ok, err := a.engine.Read(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "read failed", err)
			}
			if !ok {
				return WrapExitError(ExitFailure, fmt.Sprintf("no record %q", args[0]), errRecordNotFound)
			}

			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(doc)
			}
			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Owner string
	Since string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List local records",
		Long: `List local records ordered by id.

--owner lists one owner's records, most recently modified first.
--since lists records modified after an RFC 3339 time, oldest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRecords(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "only records of this owner")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only records modified after this time (RFC 3339)")
	cmd.MarkFlagsMutuallyExclusive("owner", "since")

	return cmd
}

func listRecords(opts *ListOptions, cmd *cobra.Command) error {
	var since time.Time
	if opts.Since != "" {
		var err error
		if since, err = time.Parse(time.RFC3339Nano, opts.Since); err != nil {
			return invalidInput("invalid --since: %v", err)
		}
	}

	a, err := openApp(cmd.Context(), opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var rows []record.Stored
	switch {
	case opts.Owner != "":
		rows, err = a.store.RecordsByOwner(ctx, opts.Owner)
	case opts.Since != "":
		rows, err = a.store.RecordsModifiedSince(ctx, since)
	default:
		rows, err = a.store.AllRecords(ctx)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "list failed", err)
	}

	docs := make([]json.RawMessage, len(rows))
	table := make([][]string, len(rows))
	for i, r := range rows {
		docs[i] = r.Payload
		table[i] = []string{r.ID, r.Owner, r.ModifiedAt.Format(time.RFC3339), truncate(string(r.Payload), 48)}
	}
	return opts.formatter(cmd).Table(docs, []string{"ID", "OWNER", "MODIFIED", "RECORD"}, table)
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.Remove(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitFailure, "remove failed", err)
			}
			return rootOpts.formatter(cmd).Success(a.writeResult(cmd, args[0]))
		},
	}
}

func (a *app) writeResult(cmd *cobra.Command, id string) WriteResult {
	res := WriteResult{ID: id, Pending: a.engine.State().PendingCount}
	if entries, err := a.store.EntriesFor(cmd.Context(), id); err == nil {
		res.Queued = len(entries) > 0
	}
	return res
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/qbar/internal/engine"
	"github.com/roach88/qbar/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Payload  string
}

// TraceResult is the transition timeline of one session.
type TraceResult struct {
	Session     string          `json:"session"`
	Transitions []journal.Entry `json:"transitions"`
	Stats       TraceStats      `json:"stats"`
}

// TraceStats summarizes a session.
type TraceStats struct {
	Transitions int `json:"transitions"`
	Accepted    int `json:"accepted"`
	NotFound    int `json:"not_found"`
	Denied      int `json:"denied"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect a scan journal",
		Long: `Inspect state transitions recorded by scan --journal or test --journal.

Without --session the recorded sessions are listed. With --session its
transitions are printed in order. Payloads are stored as digests only;
--payload counts how often a given payload was accepted.

Examples:
  qbar trace --db scans.db
  qbar trace --db scans.db --session 0192f0c4-...
  qbar trace --db scans.db --payload https://example.com --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to print")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "count acceptances of this payload")

	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
	ctx := cmd.Context()
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	switch {
	case opts.Payload != "":
		n, err := j.Seen(ctx, opts.Payload)
		if err != nil {
			return WrapExitError(ExitCommandError, "query failed", err)
		}
		if out.JSON() {
			return out.Success(map[string]any{
				"digest":   journal.PayloadDigest(opts.Payload),
				"accepted": n,
			})
		}
		out.Textf("%s accepted %d time(s)", journal.PayloadDigest(opts.Payload), n)
		return nil

	case opts.Session != "":
		entries, err := j.Transitions(ctx, opts.Session)
		if err != nil {
			return WrapExitError(ExitCommandError, "query failed", err)
		}
		if len(entries) == 0 {
			if err := out.Error("NOT_FOUND", fmt.Sprintf("no transitions for session %q", opts.Session), nil); err != nil {
				return err
			}
			return NewExitError(ExitFailure, "session not found")
		}
		result := TraceResult{Session: opts.Session, Transitions: entries, Stats: traceStats(entries)}
		if out.JSON() {
			return out.Success(result)
		}
		return printTimeline(out, result)

	default:
		sessions, err := j.Sessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "query failed", err)
		}
		if out.JSON() {
			return out.Success(sessions)
		}
		if len(sessions) == 0 {
			out.Textf("No sessions recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tTRANSITIONS\tLAST SEQ")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", s.ID, s.Transitions, s.LastSeq)
		}
		return tw.Flush()
	}
}

func traceStats(entries []journal.Entry) TraceStats {
	st := TraceStats{Transitions: len(entries)}
	for _, e := range entries {
		switch e.To {
		case engine.KindProcessing:
			st.Accepted++
		case engine.KindNotFound:
			st.NotFound++
		case engine.KindUnauthorized:
			st.Denied++
		}
	}
	return st
}

func printTimeline(out *OutputFormatter, r TraceResult) error {
	out.Textf("Session: %s", r.Session)
	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFROM\tTO\tTRIGGER\tSOURCE\tSYMBOLOGY\tDIGEST")
	for _, e := range r.Transitions {
		digest := e.PayloadDigest
		if len(digest) > 12 {
			digest = digest[:12]
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.From, e.To, e.Trigger, e.Source, e.Symbology, digest)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	out.Textf("\n%d transitions: %d accepted, %d not found, %d denied",
		r.Stats.Transitions, r.Stats.Accepted, r.Stats.NotFound, r.Stats.Denied)
	return nil
}

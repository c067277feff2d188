package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/normcache/internal/harness"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Session string // optional; defaults to the latest session
	Replay  bool
}

// TraceEntry is one journaled step in command output.
type TraceEntry struct {
	Step    int64    `json:"step"`
	Kind    string   `json:"kind"`
	Query   string   `json:"query,omitempty"`
	Target  string   `json:"target,omitempty"`
	Payload any      `json:"payload,omitempty"`
	Version int64    `json:"version"`
	Changed []string `json:"changed"`
	Digest  string   `json:"digest,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID string                `json:"session_id"`
	Label     string                `json:"label,omitempty"`
	Config    string                `json:"config"`
	Entries   []TraceEntry          `json:"entries"`
	Stats     TraceStats            `json:"stats"`
	Replay    *journal.ReplayResult `json:"replay,omitempty"`
}

// TraceStats holds summary counts for a session.
type TraceStats struct {
	Steps   int            `json:"steps"`
	ByKind  map[string]int `json:"by_kind"`
	Version int64          `json:"version"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journaled steps of a session",
		Long: `Show the steps a cache session journaled, in step order.

Each step lists its kind, query or target entity, the store version it
produced, the entities it changed and the digest of the value it
returned. With --replay, the session is fed through a fresh cache built
from the journaled configuration and every divergent step is reported.

Exit codes:
  0 - Trace printed (and replay deterministic)
  1 - Replay diverged from the journal
  2 - Command error (journal not found, unknown session, etc.)

Examples:
  normcache trace --journal ./normcache.db
  normcache trace --journal ./normcache.db --session lifecycle-session
  normcache trace --journal ./normcache.db --replay --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("journal")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to show (default: latest)")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "replay the session and compare outcomes")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// Opening creates a missing file; a trace of nothing is a usage error.
	if _, err := os.Stat(opts.Journal); err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "journal not found", err)
	}
	j, err := journal.Open(opts.Journal)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	session, err := findSession(ctx, j, opts.Session)
	if err != nil {
		code := CodeLoad
		if opts.Session == "" && errors.Is(err, journal.ErrSessionNotFound) {
			code = CodeNoSessions
		}
		_ = out.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to find session", err)
	}
	out.VerboseLog("session %s (%s)", session.ID, session.Label)

	entries, err := j.Entries(ctx, session.ID)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read entries", err)
	}

	result := buildTrace(session, entries)

	if opts.Replay {
		replay, err := harness.Replay(ctx, j, session.ID, harness.WithLogger(newLogger(cmd.ErrOrStderr(), opts.Verbose)))
		if err != nil {
			_ = out.Error(CodeReplay, err.Error(), nil)
			return WrapExitError(ExitFailure, "replay failed", err)
		}
		result.Replay = &replay
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result, SessionID: result.SessionID}
		if result.Replay != nil && !result.Replay.Deterministic() {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    CodeReplay,
				Message: fmt.Sprintf("%d mismatch(es)", len(result.Replay.Mismatches)),
			}
		}
		if err := out.Respond(resp); err != nil {
			return err
		}
	} else {
		writeTrace(cmd.OutOrStdout(), result, opts.Verbose)
	}

	if result.Replay != nil && !result.Replay.Deterministic() {
		return NewExitError(ExitFailure, fmt.Sprintf("replay of %s diverged", result.SessionID))
	}
	return nil
}

func findSession(ctx context.Context, j *journal.Journal, id string) (journal.Session, error) {
	if id == "" {
		return j.LatestSession(ctx)
	}
	return j.Session(ctx, id)
}

func buildTrace(session journal.Session, entries []journal.Entry) TraceResult {
	result := TraceResult{
		SessionID: session.ID,
		Label:     session.Label,
		Config:    session.Config,
		Entries:   make([]TraceEntry, len(entries)),
		Stats: TraceStats{
			Steps:  len(entries),
			ByKind: map[string]int{},
		},
	}

	for i, e := range entries {
		changed := make([]string, len(e.Changed))
		for k, key := range e.Changed {
			changed[k] = key.String()
		}
		entry := TraceEntry{
			Step:    e.Step,
			Kind:    string(e.Kind),
			Query:   string(e.QueryKey),
			Target:  e.Target,
			Version: e.Version,
			Changed: changed,
			Digest:  e.Digest,
		}
		if e.Payload != nil {
			entry.Payload = ir.ToAny(e.Payload)
		}
		result.Entries[i] = entry
		result.Stats.ByKind[entry.Kind]++
		result.Stats.Version = e.Version
	}
	return result
}

func writeTrace(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for Session: %s\n", result.SessionID)
	if result.Label != "" {
		fmt.Fprintf(w, "Label: %s\n", result.Label)
	}
	if verbose {
		fmt.Fprintf(w, "Config: %s\n", result.Config)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Steps ===")
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  (no steps)")
	}
	for _, e := range result.Entries {
		target := e.Query
		if e.Target != "" {
			target = e.Target
		}
		fmt.Fprintf(w, "  [%d] %s", e.Step, e.Kind)
		if target != "" {
			fmt.Fprintf(w, " %s", target)
		}
		fmt.Fprintf(w, " v%d changed=%s", e.Version, keyList(e.Changed))
		if e.Digest != "" {
			fmt.Fprintf(w, " digest=%s", truncateDigest(e.Digest))
		}
		fmt.Fprintln(w)
		if verbose && e.Payload != nil {
			if v, err := ir.FromAny(e.Payload); err == nil {
				fmt.Fprintf(w, "       Payload: %s\n", renderValue(v))
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Steps:   %d\n", result.Stats.Steps)
	fmt.Fprintf(w, "  Version: %d\n", result.Stats.Version)
	for _, kind := range []journal.Kind{
		journal.KindFetch,
		journal.KindMutation,
		journal.KindDispose,
		journal.KindSetEntity,
		journal.KindEvict,
	} {
		if n := result.Stats.ByKind[string(kind)]; n > 0 {
			fmt.Fprintf(w, "  %-11s %d\n", string(kind)+":", n)
		}
	}

	if result.Replay == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Replay ===")
	if result.Replay.Deterministic() {
		fmt.Fprintf(w, "  ✓ %d step(s) reproduced\n", result.Replay.Steps)
		return
	}
	fmt.Fprintf(w, "  ✗ %d mismatch(es) in %d step(s)\n", len(result.Replay.Mismatches), result.Replay.Steps)
	for _, m := range result.Replay.Mismatches {
		fmt.Fprintf(w, "  [%d] %s: recorded %s, replayed %s\n", m.Step, m.Field, m.Recorded, m.Replayed)
	}
}

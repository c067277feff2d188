package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/normcache/internal/cache"
	"github.com/roach88/normcache/internal/harness"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string
	Config  string

	// IDGenerator names the cache instance. If nil, journaled runs of a
	// scenario without session_id use UUIDv7Generator.
	IDGenerator cache.IDGenerator
}

// StepReport is one executed step in command output.
type StepReport struct {
	Step         int      `json:"step"`
	Kind         string   `json:"kind"`
	Query        string   `json:"query,omitempty"`
	Target       string   `json:"target,omitempty"`
	Version      int64    `json:"version"`
	Changed      []string `json:"changed"`
	Created      []string `json:"created"`
	Notified     []string `json:"notified"`
	Unreferenced []string `json:"unreferenced,omitempty"`
	Value        any      `json:"value,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// QueryReport is the last value the consumer held for one query.
type QueryReport struct {
	Query string `json:"query"`
	Value any    `json:"value"`

	value ir.Value
}

// RunReport is the output of the run command.
type RunReport struct {
	Scenario  string        `json:"scenario"`
	SessionID string        `json:"session_id"`
	Pass      bool          `json:"pass"`
	Steps     []StepReport  `json:"steps"`
	Queries   []QueryReport `json:"queries"`
	Stats     cache.Stats   `json:"stats"`
	Errors    []string      `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Drive a cache through a scenario",
		Long: `Run the fetch, mutation, dispose, set_entity and evict steps of a
scenario against a fresh cache.

Prints the change set of every step, the last value of every query and
the outcome of the scenario's assertions. With --journal, every
successful step is appended to a SQLite journal for later inspection
with "normcache trace".

Exit codes:
  0 - Scenario passed
  1 - An expectation or assertion failed
  2 - Command error (unreadable scenario, bad config, etc.)

Examples:
  normcache run ./scenarios/worked_example.yaml
  normcache run ./scenarios/worked_example.yaml --journal ./normcache.db
  normcache run ./scenarios/worked_example.yaml --config ./cache.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (created if missing)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "cache config file, replacing the scenario's config")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.Config != "" {
		scenario.Config = nil
		scenario.ConfigFile = opts.Config
	}

	runOpts := []harness.Option{harness.WithLogger(logger)}
	ids := opts.IDGenerator
	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			_ = out.Error(CodeLoad, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithJournal(j))
		if ids == nil && scenario.SessionID == "" {
			ids = cache.UUIDv7Generator{}
		}
	}
	if ids != nil {
		runOpts = append(runOpts, harness.WithIDGenerator(ids))
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		_ = out.Error(CodeRun, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	report := buildRunReport(scenario.Name, result)

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: report, SessionID: report.SessionID}
		if !report.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    CodeScenario,
				Message: fmt.Sprintf("%d check(s) failed", len(report.Errors)),
				Details: report.Errors,
			}
		}
		if err := out.Respond(resp); err != nil {
			return err
		}
	} else {
		writeRunReport(cmd.OutOrStdout(), report, opts.Verbose)
	}

	if !report.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", report.Scenario))
	}
	return nil
}

// newLogger writes structured text logs to w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func buildRunReport(name string, result *harness.Result) RunReport {
	report := RunReport{
		Scenario:  name,
		SessionID: result.SessionID,
		Pass:      result.Pass,
		Steps:     make([]StepReport, len(result.Trace)),
		Queries:   []QueryReport{},
		Stats:     result.Stats,
		Errors:    result.Errors,
	}

	for i, event := range result.Trace {
		step := StepReport{
			Step:         event.Step,
			Kind:         event.Kind,
			Query:        event.Query,
			Target:       event.Target,
			Version:      event.Version,
			Changed:      event.Changed,
			Created:      event.Created,
			Notified:     event.Notified,
			Unreferenced: event.Unreferenced,
			Error:        event.Error,
		}
		if event.Value != nil {
			step.Value = ir.ToAny(event.Value)
		}
		report.Steps[i] = step
	}

	view := result.View()
	queries := make([]ir.QueryKey, 0, len(view))
	for q := range view {
		queries = append(queries, q)
	}
	slices.Sort(queries)
	for _, q := range queries {
		report.Queries = append(report.Queries, QueryReport{
			Query: string(q),
			Value: ir.ToAny(view[q]),
			value: view[q],
		})
	}
	return report
}

func writeRunReport(w io.Writer, report RunReport, verbose bool) {
	fmt.Fprintf(w, "Scenario: %s\n", report.Scenario)
	fmt.Fprintf(w, "Session:  %s\n", report.SessionID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Steps ===")
	for _, s := range report.Steps {
		target := s.Query
		if s.Target != "" {
			target = s.Target
		}
		if s.Error != "" {
			fmt.Fprintf(w, "  [%d] %s %s error: %s\n", s.Step, s.Kind, target, s.Error)
			continue
		}
		fmt.Fprintf(w, "  [%d] %s %s v%d changed=%s", s.Step, s.Kind, target, s.Version, keyList(s.Changed))
		if len(s.Created) > 0 {
			fmt.Fprintf(w, " created=%s", keyList(s.Created))
		}
		if len(s.Notified) > 0 {
			fmt.Fprintf(w, " notified=%s", keyList(s.Notified))
		}
		if s.Unreferenced != nil {
			fmt.Fprintf(w, " unreferenced=%s", keyList(s.Unreferenced))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Queries ===")
	if len(report.Queries) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, q := range report.Queries {
		fmt.Fprintf(w, "  %s %s\n", q.Query, renderValue(q.value))
	}
	fmt.Fprintln(w)

	if verbose {
		st := report.Stats
		fmt.Fprintln(w, "=== Stats ===")
		fmt.Fprintf(w, "  Version:          %d\n", st.Version)
		fmt.Fprintf(w, "  Entities:         %d\n", st.Entities)
		fmt.Fprintf(w, "  Queries:          %d\n", st.Queries)
		fmt.Fprintf(w, "  Merges:           %d (%d no-op)\n", st.Merges, st.NoopMerges)
		fmt.Fprintf(w, "  Materializations: %d (%d reused)\n", st.Materializations, st.Reused)
		fmt.Fprintf(w, "  Notifications:    %d\n", st.Notifications)
		fmt.Fprintf(w, "  Evictions:        %d\n", st.Evictions)
		fmt.Fprintln(w)
	}

	if report.Pass {
		fmt.Fprintf(w, "✓ %s passed\n", report.Scenario)
		return
	}
	fmt.Fprintf(w, "✗ %s failed\n", report.Scenario)
	for _, e := range report.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

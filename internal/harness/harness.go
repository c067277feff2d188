package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strings"

	"github.com/roach88/normcache/internal/cache"
	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
	"github.com/roach88/normcache/internal/testutil"
)

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	journal *journal.Journal
	logger  *slog.Logger
	ids     cache.IDGenerator
}

// WithJournal appends every successful step to j.
func WithJournal(j *journal.Journal) Option {
	return func(o *runOptions) { o.journal = j }
}

// WithLogger sets the logger of the harness and of the cache it drives.
// Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// WithIDGenerator replaces the fixed cache instance ID, for example with
// cache.UUIDv7Generator when several runs share one journal.
func WithIDGenerator(g cache.IDGenerator) Option {
	return func(o *runOptions) { o.ids = g }
}

// Harness executes the steps of one scenario against one cache.
type Harness struct {
	cache   *cache.Cache
	sink    *testutil.RecordingSink
	journal *journal.Journal
	logger  *slog.Logger

	// step is the last journaled step number.
	step int64

	// view is the latest value the consumer holds for each query.
	view map[ir.QueryKey]ir.Value
}

// outcome is what executing one journal entry produced.
type outcome struct {
	changes      cache.ChangeSet
	unreferenced []ir.Key
	value        ir.Value
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh cache with a fixed instance ID and a
// recording sink. Step expectations and final assertions that fail are
// reported in Result.Errors; an error return means the scenario could not
// be run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg, err := scenario.CacheConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	o := runOptions{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    testutil.NewFixedIDGenerator(scenario.SessionID),
	}
	for _, opt := range opts {
		opt(&o)
	}

	sink := &testutil.RecordingSink{}
	c, err := cache.New(cfg,
		cache.WithLogger(o.logger),
		cache.WithSink(sink),
		cache.WithIDGenerator(o.ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	defer c.Close()

	h := &Harness{
		cache:   c,
		sink:    sink,
		journal: o.journal,
		logger:  o.logger.With("scenario", scenario.Name),
		view:    make(map[ir.QueryKey]ir.Value),
	}

	if h.journal != nil {
		session := journal.Session{ID: c.ID(), Label: scenario.Name, Config: configJSON(cfg)}
		if err := h.journal.BeginSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to begin journal session: %w", err)
		}
	}

	result := NewResult()
	result.SessionID = c.ID()

	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := h.runStep(ctx, i+1, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	// Assertions materialize queries; stats describe the steps only.
	result.Stats = c.Stats()

	actx := &AssertionContext{Cache: c, Result: result}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	h.logger.Info("scenario completed",
		"steps", len(scenario.Steps),
		"pass", result.Pass,
		"errors", len(result.Errors),
		"version", c.Version(),
	)
	return result, nil
}

// runStep executes one step, records its trace event and checks its
// expectations.
func (h *Harness) runStep(ctx context.Context, n int, step Step, result *Result) error {
	entry, err := step.Entry()
	if err != nil {
		return err
	}

	h.sink.Reset()
	out, execErr := execute(h.cache, entry)

	event := TraceEvent{
		Step:     n,
		Kind:     string(entry.Kind),
		Query:    string(entry.QueryKey),
		Target:   entry.Target,
		Version:  h.cache.Version(),
		Changed:  []string{},
		Created:  []string{},
		Notified: []string{},
	}

	wantErr := ""
	if step.Expect != nil {
		wantErr = step.Expect.Error
	}

	if execErr != nil {
		event.Error = execErr.Error()
		result.Trace = append(result.Trace, event)
		result.observed = append(result.observed, maps.Clone(h.view))

		switch {
		case wantErr == "":
			result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", n, entry.Kind, execErr))
		case !strings.Contains(execErr.Error(), wantErr):
			result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q, got %q", n, entry.Kind, wantErr, execErr))
		}
		h.logger.Debug("step failed", "step", n, "kind", entry.Kind, "error", execErr)
		return nil
	}

	if wantErr != "" {
		result.AddError(fmt.Sprintf("step %d (%s): expected error containing %q, got none", n, entry.Kind, wantErr))
	}

	event.Version = out.changes.Version
	event.Changed = keyStrings(out.changes.Changed)
	event.Created = keyStrings(out.changes.Created)
	event.Notified = queryStrings(out.changes.Notified)
	if entry.Kind == journal.KindDispose {
		event.Unreferenced = keyStrings(out.unreferenced)
	}
	event.Value = out.value
	result.Trace = append(result.Trace, event)

	switch entry.Kind {
	case journal.KindFetch:
		h.view[entry.QueryKey] = out.value
	case journal.KindDispose:
		delete(h.view, entry.QueryKey)
	}
	for _, p := range h.sink.Pushes {
		h.view[p.Query] = p.Value
	}
	result.observed = append(result.observed, maps.Clone(h.view))

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, event) {
			result.AddError(fmt.Sprintf("step %d (%s): %s", n, entry.Kind, msg))
		}
	}

	if h.journal != nil {
		if err := h.record(ctx, entry, out); err != nil {
			return err
		}
	}

	h.logger.Info("step completed",
		"step", n,
		"kind", entry.Kind,
		"version", event.Version,
		"changed", len(event.Changed),
		"notified", len(event.Notified),
	)
	return nil
}

// record appends a successful step to the journal.
func (h *Harness) record(ctx context.Context, entry journal.Entry, out outcome) error {
	o, err := outcomeOf(out)
	if err != nil {
		return err
	}

	h.step++
	entry.SessionID = h.cache.ID()
	entry.Step = h.step
	entry.Version = o.Version
	entry.Changed = o.Changed
	entry.Digest = o.Digest
	if err := h.journal.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to journal step: %w", err)
	}
	return nil
}

// execute performs the cache call an entry describes.
func execute(c *cache.Cache, e journal.Entry) (outcome, error) {
	switch e.Kind {
	case journal.KindFetch:
		v, err := c.OnFetchSuccess(e.QueryKey, e.Payload)
		if err != nil {
			return outcome{}, err
		}
		return outcome{changes: c.LastChange(), value: v}, nil

	case journal.KindMutation:
		cs, err := c.OnMutationSuccess(e.QueryKey, e.Payload)
		if err != nil {
			return outcome{}, err
		}
		return outcome{changes: cs}, nil

	case journal.KindDispose:
		orphans := c.DropQuery(e.QueryKey)
		if orphans == nil {
			orphans = []ir.Key{}
		}
		return outcome{
			changes: cache.ChangeSet{
				Version:  c.Version(),
				Changed:  []ir.Key{},
				Created:  []ir.Key{},
				Notified: []ir.QueryKey{},
			},
			unreferenced: orphans,
		}, nil

	case journal.KindSetEntity:
		k, err := ir.ParseKey(e.Target)
		if err != nil {
			return outcome{}, err
		}
		fields, ok := e.Payload.(ir.Object)
		if !ok {
			return outcome{}, fmt.Errorf("set_entity %s: payload is %s, want object", k, ir.KindOf(e.Payload))
		}
		cs, err := c.SetEntity(k, cache.Fields(fields))
		if err != nil {
			return outcome{}, err
		}
		return outcome{changes: cs}, nil

	case journal.KindEvict:
		keys, err := evictKeys(e.Payload)
		if err != nil {
			return outcome{}, err
		}
		cs, err := c.Evict(keys...)
		if err != nil {
			return outcome{}, err
		}
		return outcome{changes: cs}, nil

	default:
		return outcome{}, fmt.Errorf("unknown step kind %q", e.Kind)
	}
}

func evictKeys(payload ir.Value) ([]ir.Key, error) {
	arr, ok := payload.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("evict: payload is %s, want array of keys", ir.KindOf(payload))
	}
	keys := make([]ir.Key, 0, len(arr))
	for i, v := range arr {
		s, ok := v.(ir.String)
		if !ok {
			return nil, fmt.Errorf("evict[%d]: %s is not a key", i, ir.KindOf(v))
		}
		k, err := ir.ParseKey(string(s))
		if err != nil {
			return nil, fmt.Errorf("evict[%d]: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// outcomeOf reduces an outcome to what the journal records.
func outcomeOf(out outcome) (journal.Outcome, error) {
	o := journal.Outcome{
		Version: out.changes.Version,
		Changed: out.changes.Changed,
	}
	if out.value != nil {
		digest, err := ir.ValueDigest(out.value)
		if err != nil {
			return journal.Outcome{}, err
		}
		o.Digest = digest
	}
	return o, nil
}

// configJSON is the journaled form of a configuration.
func configJSON(cfg config.Config) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// parseConfigJSON reverses configJSON.
func parseConfigJSON(s string) (config.Config, error) {
	cfg := config.Default()
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return config.Config{}, fmt.Errorf("session config: %w", err)
	}
	if err := cfg.Err(); err != nil {
		return config.Config{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}

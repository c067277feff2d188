package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/normcache/internal/cache"
	"github.com/roach88/normcache/internal/journal"
	"github.com/roach88/normcache/internal/testutil"
)

// Replay feeds a journaled session through a fresh cache built from the
// session's configuration and reports every step whose version, changed
// keys or value digest differs from the journal.
func Replay(ctx context.Context, j *journal.Journal, sessionID string, opts ...Option) (journal.ReplayResult, error) {
	session, err := j.Session(ctx, sessionID)
	if err != nil {
		return journal.ReplayResult{}, err
	}
	cfg, err := parseConfigJSON(session.Config)
	if err != nil {
		return journal.ReplayResult{}, err
	}

	o := runOptions{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ids:    testutil.NewFixedIDGenerator(sessionID),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c, err := cache.New(cfg,
		cache.WithLogger(o.logger),
		cache.WithSink(&testutil.RecordingSink{}),
		cache.WithIDGenerator(o.ids),
	)
	if err != nil {
		return journal.ReplayResult{}, fmt.Errorf("failed to create cache: %w", err)
	}
	defer c.Close()

	result, err := j.Replay(ctx, sessionID, func(_ context.Context, e journal.Entry) (journal.Outcome, error) {
		out, err := execute(c, e)
		if err != nil {
			return journal.Outcome{}, err
		}
		return outcomeOf(out)
	})
	if err != nil {
		return result, err
	}

	o.logger.Info("session replayed",
		"session", sessionID,
		"steps", result.Steps,
		"mismatches", len(result.Mismatches),
	)
	return result, nil
}

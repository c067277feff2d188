package journal

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/normcache/internal/ir"
)

// Outcome is what re-applying one step produced.
type Outcome struct {
	Version int64
	Changed []ir.Key
	Digest  string
}

// ApplyFunc re-applies one journaled step to a fresh cache.
type ApplyFunc func(ctx context.Context, e Entry) (Outcome, error)

// Mismatch describes a step whose replay diverged from the journal.
type Mismatch struct {
	Step     int64  `json:"step"`
	Field    string `json:"field"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	SessionID  string     `json:"session_id"`
	Steps      int        `json:"steps"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Deterministic reports whether every step reproduced its journaled
// outcome.
func (r ReplayResult) Deterministic() bool {
	return len(r.Mismatches) == 0
}

// Replay feeds a session's steps, in order, to apply and compares each
// outcome with what was journaled. An error from apply aborts the replay.
func (j *Journal) Replay(ctx context.Context, sessionID string, apply ApplyFunc) (ReplayResult, error) {
	if _, err := j.Session(ctx, sessionID); err != nil {
		return ReplayResult{}, err
	}

	entries, err := j.Entries(ctx, sessionID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: %w", err)
	}

	result := ReplayResult{SessionID: sessionID, Mismatches: []Mismatch{}}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		got, err := apply(ctx, e)
		if err != nil {
			return result, fmt.Errorf("replay step %d: %w", e.Step, err)
		}
		result.Steps++
		result.Mismatches = append(result.Mismatches, compare(e, got)...)
	}
	return result, nil
}

func compare(e Entry, got Outcome) []Mismatch {
	var out []Mismatch
	if e.Version != got.Version {
		out = append(out, Mismatch{
			Step:     e.Step,
			Field:    "version",
			Recorded: fmt.Sprint(e.Version),
			Replayed: fmt.Sprint(got.Version),
		})
	}

	recorded := ir.NewKeySet(e.Changed...).Strings()
	replayed := ir.NewKeySet(got.Changed...).Strings()
	if !slices.Equal(recorded, replayed) {
		out = append(out, Mismatch{
			Step:     e.Step,
			Field:    "changed",
			Recorded: fmt.Sprint(recorded),
			Replayed: fmt.Sprint(replayed),
		})
	}

	if e.Digest != got.Digest {
		out = append(out, Mismatch{
			Step:     e.Step,
			Field:    "digest",
			Recorded: e.Digest,
			Replayed: got.Digest,
		})
	}
	return out
}

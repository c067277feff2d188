package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
)

// journaledRun runs the post_and_me scenario into a fresh journal and
// returns the journal path.
func journaledRun(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "normcache.db")
	_, _, err := execute(t, "run", "testdata/post_and_me.yaml", "--journal", db)
	require.NoError(t, err)
	return db
}

func TestTrace_Text(t *testing.T) {
	db := journaledRun(t)

	stdout, _, err := execute(t, "trace", "--journal", db)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Trace for Session: ")
	assert.Contains(t, stdout, "Label: post_and_me\n")
	assert.Contains(t, stdout, `  [1] fetch ["post","10"] v1 changed=[post:10 user:1] digest=`)
	assert.Contains(t, stdout, `  [2] fetch ["me"] v1 changed=[] digest=`)
	assert.Contains(t, stdout, `  [3] mutation ["saveUser"] v2 changed=[user:1]`+"\n")
	assert.Contains(t, stdout, "  Steps:   3\n")
	assert.Contains(t, stdout, "  Version: 2\n")
	assert.Contains(t, stdout, "  fetch:      2\n")
	assert.Contains(t, stdout, "  mutation:   1\n")
	assert.NotContains(t, stdout, "=== Replay ===")
	assert.NotContains(t, stdout, "Payload:")
}

func TestTrace_Verbose(t *testing.T) {
	db := journaledRun(t)

	stdout, stderr, err := execute(t, "trace", "-v", "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, `Config: {"dev_logging":false`)
	assert.Contains(t, stdout, `       Payload: {"id":"1","name":"B","type":"user"}`)
	assert.Contains(t, stderr, "session ")
}

func TestTrace_Replay(t *testing.T) {
	db := journaledRun(t)

	stdout, _, err := execute(t, "trace", "--journal", db, "--replay")
	require.NoError(t, err)
	assert.Contains(t, stdout, "=== Replay ===\n  ✓ 3 step(s) reproduced\n")
}

func TestTrace_JSON(t *testing.T) {
	db := journaledRun(t)

	stdout, _, err := execute(t, "--format", "json", "trace", "--journal", db, "--replay")
	require.NoError(t, err)

	var result TraceResult
	resp := decodeResponse(t, stdout, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, result.SessionID, resp.SessionID)

	require.Len(t, result.Entries, 3)
	assert.Equal(t, "fetch", result.Entries[0].Kind)
	assert.Equal(t, `["post","10"]`, result.Entries[0].Query)
	assert.Len(t, result.Entries[0].Digest, 64)
	assert.Empty(t, result.Entries[2].Digest)
	assert.Equal(t, map[string]int{"fetch": 2, "mutation": 1}, result.Stats.ByKind)

	require.NotNil(t, result.Replay)
	assert.Equal(t, 3, result.Replay.Steps)
	assert.Empty(t, result.Replay.Mismatches)
}

func TestTrace_SelectsSession(t *testing.T) {
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "normcache.db")

	j, err := journal.Open(db)
	require.NoError(t, err)
	for _, id := range []string{"first", "second"} {
		require.NoError(t, j.BeginSession(ctx, journal.Session{ID: id, Label: id}))
	}
	require.NoError(t, j.Append(ctx, journal.Entry{
		SessionID: "first",
		Step:      1,
		Kind:      journal.KindEvict,
		Payload:   ir.Array{ir.String("user:1")},
		Changed:   []ir.Key{},
	}))
	require.NoError(t, j.Close())

	stdout, _, err := execute(t, "trace", "--journal", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Trace for Session: second\n")
	assert.Contains(t, stdout, "  (no steps)\n")

	stdout, _, err = execute(t, "trace", "--journal", db, "--session", "first")
	require.NoError(t, err)
	assert.Contains(t, stdout, "  [1] evict v0 changed=[]\n")
	assert.Contains(t, stdout, "  evict:      1\n")
}

func TestTrace_ReplayDivergence(t *testing.T) {
	ctx := context.Background()
	db := filepath.Join(t.TempDir(), "normcache.db")

	j, err := journal.Open(db)
	require.NoError(t, err)
	require.NoError(t, j.BeginSession(ctx, journal.Session{ID: "forged"}))
	require.NoError(t, j.Append(ctx, journal.Entry{
		SessionID: "forged",
		Step:      1,
		Kind:      journal.KindMutation,
		QueryKey:  ir.MustQueryKey("saveUser"),
		Payload:   ir.Object{"type": ir.String("user"), "id": ir.String("1")},
		Version:   7,
		Changed:   []ir.Key{{Type: "user", ID: "1"}},
	}))
	require.NoError(t, j.Close())

	stdout, _, err := execute(t, "trace", "--journal", db, "--replay")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "replay of forged diverged")
	assert.Contains(t, stdout, "  ✗ 1 mismatch(es) in 1 step(s)\n")
	assert.Contains(t, stdout, "  [1] version: recorded 7, replayed 1\n")

	stdout, _, err = execute(t, "--format", "json", "trace", "--journal", db, "--replay")
	require.Error(t, err)
	resp := decodeResponse(t, stdout, nil)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeReplay, resp.Error.Code)
}

func TestTrace_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "trace", "--journal", filepath.Join(dir, "nope.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	empty := filepath.Join(dir, "empty.db")
	j, err := journal.Open(empty)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	stdout, _, err := execute(t, "--format", "json", "trace", "--journal", empty)
	require.Error(t, err)
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
	resp := decodeResponse(t, stdout, nil)
	assert.Equal(t, CodeNoSessions, resp.Error.Code)

	_, _, err = execute(t, "trace", "--journal", journaledRun(t), "--session", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

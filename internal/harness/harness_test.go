package harness

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/cache"
	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
	"github.com/roach88/normcache/internal/testutil"
)

const postScenario = `
name: post_and_me
description: two queries sharing user:1
steps:
  - fetch: [post, "10"]
    payload:
      post: {type: post, id: "10", title: Hi, author: {type: user, id: "1", name: A}}
  - fetch: [me]
    payload:
      me: {type: user, id: "1", name: A}
  - mutation: [saveUser]
    payload: {type: user, id: "1", name: B}
`

func TestRun_Trace(t *testing.T) {
	result, err := runScenario(t, parseScenario(t, postScenario))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 3)
	assert.Equal(t, "test-id-default", result.SessionID)

	first := result.Trace[0]
	assert.Equal(t, 1, first.Step)
	assert.Equal(t, "fetch", first.Kind)
	assert.Equal(t, `["post","10"]`, first.Query)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, []string{"post:10", "user:1"}, first.Changed)
	require.NotNil(t, first.Value)

	last := result.Trace[2]
	assert.Equal(t, "mutation", last.Kind)
	assert.Equal(t, []string{"user:1"}, last.Changed)
	assert.Equal(t, []string{`["me"]`, `["post","10"]`}, last.Notified)
	assert.Nil(t, last.Value)

	assert.Equal(t, 2, result.Stats.Queries)
	assert.Equal(t, int64(2), result.Stats.Version)
	assert.Equal(t, int64(2), result.Stats.Notifications)
}

func TestRun_Observed(t *testing.T) {
	result, err := runScenario(t, parseScenario(t, postScenario))
	require.NoError(t, err)

	qPost := ir.MustQueryKey("post", "10")
	qMe := ir.MustQueryKey("me")

	_, ok := result.Observed(1, qMe)
	assert.False(t, ok, "me is not fetched yet after step 1")

	p1, ok := result.Observed(1, qPost)
	require.True(t, ok)
	p2, _ := result.Observed(2, qPost)
	p3, _ := result.Observed(3, qPost)
	assert.True(t, ir.Same(p1, p2), "a no-op fetch of another query leaves post untouched")
	assert.False(t, ir.Same(p2, p3))

	_, ok = result.Observed(4, qPost)
	assert.False(t, ok)
	_, ok = result.Observed(0, qPost)
	assert.False(t, ok)
}

func TestRun_FailedExpectations(t *testing.T) {
	scenario := parseScenario(t, `
name: wrong
description: every expectation is wrong
steps:
  - fetch: [me]
    payload: {me: {type: user, id: "1", name: A}}
    expect:
      changed: ["user:2"]
      value: {me: null}
  - mutation: [saveUser]
    payload: {type: user, id: "1", name: A}
    expect:
      notified: [[me]]
  - set_entity: "user:1"
    payload: {type: user, id: "9"}
  - mutation: [ok]
    payload: {}
    expect:
      error: boom
`)

	result, err := runScenario(t, scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "step 1 (fetch): value")
	assert.Contains(t, result.Errors[1], "step 1 (fetch): changed: expected [user:2], got [user:1]")
	assert.Contains(t, result.Errors[2], "step 2 (mutation): notified")
	assert.Contains(t, result.Errors[3], "step 3 (set_entity): unexpected error")
	assert.Contains(t, result.Errors[4], `step 4 (mutation): expected error containing "boom", got none`)

	assert.Contains(t, result.Trace[2].Error, "identifies user:9")
}

func TestRun_ExpectedErrorMismatch(t *testing.T) {
	scenario := parseScenario(t, `
name: wrong_error
description: error text differs
steps:
  - set_entity: "user:1"
    payload: {type: user, id: "9"}
    expect:
      error: something else
`)

	result, err := runScenario(t, scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected error containing "something else"`)
}

func TestRun_InvalidConfig(t *testing.T) {
	scenario := parseScenario(t, `
name: bad_config
description: identity fields collide
config:
  identity: {type_field: id}
steps:
  - fetch: [a]
`)
	_, err := runScenario(t, scenario)
	assert.ErrorContains(t, err, "failed to load config")
}

func TestRun_CustomIdentityFields(t *testing.T) {
	scenario := parseScenario(t, `
name: custom_identity
description: entities identified by __typename and key
config:
  identity: {type_field: __typename, id_field: key}
steps:
  - fetch: [a]
    payload:
      x: {__typename: User, key: 7, name: A}
      y: {type: user, id: "1"}
    expect:
      changed: ["User:7"]
assertions:
  - type: entity_value
    entity: "User:7"
    expect: {__typename: User, key: 7, name: A}
  - type: dependencies
    query: [a]
    keys: ["User:7"]
`)
	result, err := runScenario(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, parseScenario(t, postScenario))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := runScenario(t, parseScenario(t, postScenario), WithLogger(logger))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"step completed"`)
	assert.Contains(t, buf.String(), `"msg":"scenario completed"`)
	assert.Contains(t, buf.String(), `"scenario":"post_and_me"`)
}

func TestRun_JournalAndReplay(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "entity_lifecycle.yaml"))
	require.NoError(t, err)

	result, err := runScenario(t, scenario, WithJournal(j))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	session, err := j.Session(ctx, "lifecycle-session")
	require.NoError(t, err)
	assert.Equal(t, "entity_lifecycle", session.Label)
	assert.Contains(t, session.Config, `"dev_logging":true`)

	entries, err := j.Entries(ctx, "lifecycle-session")
	require.NoError(t, err)
	require.Len(t, entries, 6, "the rejected step is not journaled")

	kinds := make([]journal.Kind, len(entries))
	for i, e := range entries {
		kinds[i] = e.Kind
		assert.Equal(t, int64(i+1), e.Step)
	}
	assert.Equal(t, []journal.Kind{
		journal.KindFetch,
		journal.KindFetch,
		journal.KindSetEntity,
		journal.KindDispose,
		journal.KindEvict,
		journal.KindMutation,
	}, kinds)
	assert.NotEmpty(t, entries[0].Digest)
	assert.Empty(t, entries[2].Digest)
	assert.Equal(t, "post:10", entries[2].Target)
	assert.Equal(t, int64(4), entries[5].Version)

	replay, err := Replay(ctx, j, "lifecycle-session")
	require.NoError(t, err)
	assert.Equal(t, 6, replay.Steps)
	assert.True(t, replay.Deterministic(), "mismatches: %v", replay.Mismatches)
}

func TestRun_JournalDigestMatchesValue(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

	result, err := runScenario(t, parseScenario(t, postScenario), WithJournal(j))
	require.NoError(t, err)

	entries, err := j.Entries(ctx, result.SessionID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	want, err := ir.ValueDigest(result.Trace[0].Value)
	require.NoError(t, err)
	assert.Equal(t, want, entries[0].Digest)
}

func TestRun_JournalWithGeneratedIDs(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	scenario := parseScenario(t, postScenario)

	ids := testutil.NewSequenceGenerator("run-1", "run-2")
	first, err := runScenario(t, scenario, WithJournal(j), WithIDGenerator(ids))
	require.NoError(t, err)
	second, err := runScenario(t, scenario, WithJournal(j), WithIDGenerator(ids))
	require.NoError(t, err)

	assert.Equal(t, "run-1", first.SessionID)
	assert.Equal(t, "run-2", second.SessionID)

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	byQuery, err := j.EntriesForQuery(ctx, ir.MustQueryKey("me"))
	require.NoError(t, err)
	require.Len(t, byQuery, 2)
	assert.Equal(t, "run-1", byQuery[0].SessionID)
	assert.Equal(t, "run-2", byQuery[1].SessionID)
	assert.Equal(t, byQuery[0].Digest, byQuery[1].Digest)
}

func TestReplay_DetectsDivergence(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)

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

	replay, err := Replay(ctx, j, "forged")
	require.NoError(t, err)
	assert.False(t, replay.Deterministic())
	require.Len(t, replay.Mismatches, 1)
	assert.Equal(t, "version", replay.Mismatches[0].Field)
	assert.Equal(t, "7", replay.Mismatches[0].Recorded)
	assert.Equal(t, "1", replay.Mismatches[0].Replayed)
}

func TestReplay_UnknownSession(t *testing.T) {
	j := openTestJournal(t)
	_, err := Replay(context.Background(), j, "nope")
	assert.ErrorIs(t, err, journal.ErrSessionNotFound)
}

func TestExecute_RejectsMalformedEntries(t *testing.T) {
	c, err := cache.New(config.Default(), cache.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer c.Close()

	_, err = execute(c, journal.Entry{Kind: journal.KindEvict, Payload: ir.String("user:1")})
	assert.ErrorContains(t, err, "want array of keys")

	_, err = execute(c, journal.Entry{Kind: journal.KindEvict, Payload: ir.Array{ir.Int(1)}})
	assert.ErrorContains(t, err, "evict[0]")

	_, err = execute(c, journal.Entry{Kind: journal.KindSetEntity, Target: "user:1", Payload: ir.Array{}})
	assert.ErrorContains(t, err, "want object")

	_, err = execute(c, journal.Entry{Kind: "teleport"})
	assert.ErrorContains(t, err, "unknown step kind")
}

func TestResult_View(t *testing.T) {
	assert.Empty(t, NewResult().View())

	result, err := runScenario(t, parseScenario(t, postScenario))
	require.NoError(t, err)

	view := result.View()
	require.Len(t, view, 2)
	me, ok := view[ir.MustQueryKey("me")]
	require.True(t, ok)
	assert.True(t, ir.Equal(ir.Object{"me": ir.Object{
		"type": ir.String("user"),
		"id":   ir.String("1"),
		"name": ir.String("B"),
	}}, me))
}

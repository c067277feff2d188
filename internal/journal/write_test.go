package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/roach88/normcache/internal/ir"
)

func TestAppendAndRead(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	q := ir.MustQueryKey("post", "10")
	payload := ir.Object{"post": ir.Object{"id": ir.String("10"), "type": ir.String("post")}}

	steps := []Entry{
		{
			SessionID: "s1", Step: 1, Kind: KindFetch, QueryKey: q, Payload: payload, Version: 1,
			Changed: []ir.Key{{Type: "user", ID: "1"}, {Type: "post", ID: "10"}}, Digest: "abc",
		},
		{SessionID: "s1", Step: 2, Kind: KindDispose, QueryKey: q, Version: 1, Changed: nil},
		{
			SessionID: "s1", Step: 3, Kind: KindEvict, Version: 2,
			Payload: ir.Array{ir.String("post:10")}, Changed: []ir.Key{{Type: "post", ID: "10"}},
		},
	}
	// Written out of order; reads come back by step.
	for _, i := range []int{2, 0, 1} {
		if err := j.Append(ctx, steps[i]); err != nil {
			t.Fatalf("Append(step %d) failed: %v", steps[i].Step, err)
		}
	}

	got, err := j.Entries(ctx, "s1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(Entries()) = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Step != int64(i+1) {
			t.Errorf("entry %d has step %d", i, e.Step)
		}
	}

	first := got[0]
	if first.Kind != KindFetch || first.QueryKey != q || first.Digest != "abc" || first.Version != 1 {
		t.Errorf("first entry = %+v", first)
	}
	if !ir.Equal(payload, first.Payload) {
		t.Errorf("payload = %v, want %v", ir.ToAny(first.Payload), ir.ToAny(payload))
	}
	if len(first.Changed) != 2 || first.Changed[0].String() != "post:10" || first.Changed[1].String() != "user:1" {
		t.Errorf("changed = %v, want sorted [post:10 user:1]", first.Changed)
	}

	if got[1].Payload != nil {
		t.Errorf("dispose payload = %v, want nil", got[1].Payload)
	}
	if len(got[1].Changed) != 0 {
		t.Errorf("dispose changed = %v, want empty", got[1].Changed)
	}
}

func TestAppend_Idempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	e := Entry{SessionID: "s1", Step: 1, Kind: KindMutation, Version: 1}
	if err := j.Append(ctx, e); err != nil {
		t.Fatalf("first Append() failed: %v", err)
	}
	e.Version = 99
	if err := j.Append(ctx, e); err != nil {
		t.Fatalf("duplicate Append() failed: %v", err)
	}

	got, err := j.Entries(ctx, "s1")
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(got) != 1 || got[0].Version != 1 {
		t.Errorf("Entries() = %+v, want the first write only", got)
	}
}

func TestAppend_Rejects(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Append(ctx, Entry{SessionID: "s1", Step: 1, Kind: "refetch"}); err == nil {
		t.Error("unknown kind should fail")
	}
	if err := j.Append(ctx, Entry{SessionID: "nope", Step: 1, Kind: KindFetch}); err == nil {
		t.Error("unknown session should fail the foreign key")
	}
	if err := j.Append(ctx, Entry{SessionID: "s1", Step: 0, Kind: KindFetch}); err == nil {
		t.Error("step 0 should fail the check constraint")
	}
}

func TestSessions(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.BeginSession(ctx, Session{ID: "s2", Label: "second", Config: `{"dev_logging":true}`}); err != nil {
		t.Fatalf("BeginSession() failed: %v", err)
	}
	if err := j.BeginSession(ctx, Session{}); err == nil {
		t.Error("empty session id should fail")
	}

	sessions, err := j.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s1" || sessions[1].ID != "s2" {
		t.Errorf("Sessions() = %+v", sessions)
	}

	latest, err := j.LatestSession(ctx)
	if err != nil {
		t.Fatalf("LatestSession() failed: %v", err)
	}
	if latest.ID != "s2" || latest.Config != `{"dev_logging":true}` {
		t.Errorf("LatestSession() = %+v", latest)
	}

	_, err = j.Session(ctx, "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session(missing) error = %v, want ErrSessionNotFound", err)
	}
}

func TestEntriesForQuery(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	if err := j.BeginSession(ctx, Session{ID: "s2"}); err != nil {
		t.Fatalf("BeginSession() failed: %v", err)
	}

	a := ir.MustQueryKey("a")
	b := ir.MustQueryKey("b")
	for _, e := range []Entry{
		{SessionID: "s2", Step: 1, Kind: KindFetch, QueryKey: a, Version: 1},
		{SessionID: "s1", Step: 1, Kind: KindFetch, QueryKey: b, Version: 1},
		{SessionID: "s1", Step: 2, Kind: KindFetch, QueryKey: a, Version: 2},
	} {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	got, err := j.EntriesForQuery(ctx, a)
	if err != nil {
		t.Fatalf("EntriesForQuery() failed: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "s1" || got[1].SessionID != "s2" {
		t.Errorf("EntriesForQuery() = %+v, want s1 then s2", got)
	}
}

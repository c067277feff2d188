package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/normalize"
)

func TestSubscribe_Dependents(t *testing.T) {
	s := New()
	s.Subscribe("q1", ir.NewKeySet(post10, user1))
	s.Subscribe("q2", ir.NewKeySet(user1))
	s.Subscribe("q3", ir.NewKeySet(user2))

	assert.Equal(t, []ir.QueryKey{"q1", "q2"}, s.Dependents(ir.NewKeySet(user1)))
	assert.Equal(t, []ir.QueryKey{"q1", "q3"}, s.Dependents(ir.NewKeySet(post10, user2)))
	assert.Empty(t, s.Dependents(ir.NewKeySet(ir.Key{Type: "x", ID: "y"})))
	assert.Equal(t, []ir.QueryKey{"q1", "q2", "q3"}, s.Queries())
}

func TestSubscribe_ReplacesDependencies(t *testing.T) {
	s := New()
	s.Subscribe("q1", ir.NewKeySet(post10, user1))
	s.Subscribe("q1", ir.NewKeySet(user2))

	assert.False(t, s.Referenced(post10))
	assert.False(t, s.Referenced(user1))
	assert.True(t, s.Referenced(user2))
	assert.Equal(t, []ir.Key{user2}, s.Dependencies("q1").Sorted())
}

func TestSubscribe_CopiesDependencySet(t *testing.T) {
	s := New()
	deps := ir.NewKeySet(user1)
	s.Subscribe("q1", deps)
	deps.Add(user2)

	assert.False(t, s.Referenced(user2))
}

func TestUnsubscribe_ReturnsOrphans(t *testing.T) {
	s := New()
	s.Merge([]normalize.Patch{
		patch(post10, ir.O("author", ir.RefTo(user1))),
		patch(user1, ir.O("name", ir.String("A"))),
	})
	s.Subscribe("q1", ir.NewKeySet(post10, user1, user2))
	s.Subscribe("q2", ir.NewKeySet(user1))

	orphans := s.Unsubscribe("q1")
	assert.Equal(t, []ir.Key{post10}, orphans, "user1 still referenced; user2 never stored")
	assert.Equal(t, []ir.Key{post10}, s.Unreferenced())
	assert.Equal(t, []ir.QueryKey{"q2"}, s.Subscribers(user1))

	assert.Nil(t, s.Unsubscribe("q1"), "unknown query")

	orphans = s.Unsubscribe("q2")
	require.Equal(t, []ir.Key{user1}, orphans)
	assert.Equal(t, []ir.Key{post10, user1}, s.Unreferenced())
	assert.Empty(t, s.Queries())
}

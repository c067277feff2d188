package materialize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/normalize"
	"github.com/roach88/normcache/internal/store"
)

func entity(typ, id string, pairs ...ir.Pair) ir.Object {
	obj := ir.NewObject(pairs...)
	obj["type"] = ir.String(typ)
	obj["id"] = ir.String(id)
	return obj
}

// load extracts payload, merges it and returns its template.
func load(t *testing.T, s *store.Store, payload ir.Value) ir.Value {
	t.Helper()
	ex, err := normalize.Extract(payload, normalize.FieldResolver{})
	require.NoError(t, err)
	s.Merge(ex.Patches)
	return ex.Template
}

func field(t *testing.T, v ir.Value, path ...any) ir.Value {
	t.Helper()
	for _, seg := range path {
		switch s := seg.(type) {
		case string:
			obj, ok := v.(ir.Object)
			require.True(t, ok, "expected object at %v, got %s", s, ir.KindOf(v))
			v = obj[s]
		case int:
			arr, ok := v.(ir.Array)
			require.True(t, ok, "expected array at %d, got %s", s, ir.KindOf(v))
			require.Less(t, s, len(arr))
			v = arr[s]
		}
	}
	return v
}

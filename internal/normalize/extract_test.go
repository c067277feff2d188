package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/ir"
)

func user(id, name string) ir.Object {
	return ir.Object{"type": ir.String("user"), "id": ir.String(id), "name": ir.String(name)}
}

func TestExtractScalarsPassThrough(t *testing.T) {
	for _, v := range []ir.Value{ir.Null{}, ir.String("x"), ir.Int(1), ir.Float(2.5), ir.Bool(true)} {
		ex, err := Extract(v, FieldResolver{})
		require.NoError(t, err)
		assert.Equal(t, v, ex.Template)
		assert.Empty(t, ex.Patches)
	}

	ex, err := Extract(nil, FieldResolver{})
	require.NoError(t, err)
	assert.Equal(t, ir.Null{}, ex.Template)
}

func TestExtractPostAuthorExample(t *testing.T) {
	payload := ir.Object{
		"post": ir.Object{
			"id":     ir.String("10"),
			"type":   ir.String("post"),
			"title":  ir.String("Hi"),
			"author": user("1", "A"),
		},
	}

	ex, err := Extract(payload, FieldResolver{})
	require.NoError(t, err)

	assert.True(t, ir.Equal(ir.Object{"post": ir.Ref{Type: "post", ID: "10"}}, ex.Template))
	require.Len(t, ex.Patches, 2)

	assert.Equal(t, ir.Key{Type: "post", ID: "10"}, ex.Patches[0].Key)
	assert.True(t, ir.Equal(ir.Object{
		"id":     ir.String("10"),
		"type":   ir.String("post"),
		"title":  ir.String("Hi"),
		"author": ir.Ref{Type: "user", ID: "1"},
	}, ex.Patches[0].Fields))

	assert.Equal(t, ir.Key{Type: "user", ID: "1"}, ex.Patches[1].Key)
	assert.True(t, ir.Equal(user("1", "A"), ex.Patches[1].Fields))
	assert.Equal(t, []string{"post:10", "user:1"}, ex.Keys().Strings())
}

func TestExtractPlainObjectWithEntityChildrenIsNotAnEntity(t *testing.T) {
	payload := ir.Object{
		"meta":  ir.Object{"page": ir.Int(1)},
		"users": ir.Array{user("1", "A"), user("2", "B")},
	}

	ex, err := Extract(payload, FieldResolver{})
	require.NoError(t, err)

	expected := ir.Object{
		"meta":  ir.Object{"page": ir.Int(1)},
		"users": ir.Array{ir.Ref{Type: "user", ID: "1"}, ir.Ref{Type: "user", ID: "2"}},
	}
	assert.True(t, ir.Equal(expected, ex.Template))
	assert.Len(t, ex.Patches, 2)
}

func TestExtractEntityKeepsNestedPlainData(t *testing.T) {
	payload := ir.Object{
		"type": ir.String("project"),
		"id":   ir.String("p1"),
		"settings": ir.Object{
			"owner": user("1", "A"),
			"tags":  ir.Array{ir.String("x")},
		},
	}

	ex, err := Extract(payload, FieldResolver{})
	require.NoError(t, err)
	require.Len(t, ex.Patches, 2)

	settings := ex.Patches[0].Fields["settings"]
	assert.True(t, ir.Equal(ir.Object{
		"owner": ir.Ref{Type: "user", ID: "1"},
		"tags":  ir.Array{ir.String("x")},
	}, settings))
}

func TestExtractDeduplicatesLastWriteWins(t *testing.T) {
	payload := ir.Array{
		ir.Object{"type": ir.String("user"), "id": ir.String("1"), "name": ir.String("old"), "age": ir.Int(3)},
		user("2", "B"),
		ir.Object{"type": ir.String("user"), "id": ir.String("1"), "name": ir.String("new")},
	}

	ex, err := Extract(payload, FieldResolver{})
	require.NoError(t, err)

	require.Len(t, ex.Patches, 2)
	assert.Equal(t, ir.Key{Type: "user", ID: "1"}, ex.Patches[0].Key)
	assert.Equal(t, ir.String("new"), ex.Patches[0].Fields["name"])
	assert.Equal(t, ir.Int(3), ex.Patches[0].Fields["age"], "fields absent from the later copy survive")

	tmpl := ex.Template.(ir.Array)
	assert.Len(t, tmpl, 3)
	assert.Equal(t, tmpl[0], tmpl[2])
}

func TestExtractCycleBetweenEntities(t *testing.T) {
	a := ir.Object{"id": ir.String("1"), "type": ir.String("node")}
	b := ir.Object{"id": ir.String("2"), "type": ir.String("node")}
	a["next"] = b
	b["next"] = a

	ex, err := Extract(a, FieldResolver{})
	require.NoError(t, err)

	require.Len(t, ex.Patches, 2)
	assert.Equal(t, ir.Ref{Type: "node", ID: "1"}, ex.Template)
	assert.Equal(t, ir.Ref{Type: "node", ID: "2"}, ex.Patches[0].Fields["next"])
	assert.Equal(t, ir.Ref{Type: "node", ID: "1"}, ex.Patches[1].Fields["next"])
	assert.Equal(t, 1, ex.Cycles)
}

func TestExtractCycleThroughPlainObject(t *testing.T) {
	plain := ir.Object{"label": ir.String("loop")}
	plain["self"] = plain

	ex, err := Extract(ir.Object{"root": plain}, FieldResolver{})
	require.NoError(t, err)

	root := ex.Template.(ir.Object)["root"].(ir.Object)
	assert.Equal(t, ir.String("loop"), root["label"])
	assert.Equal(t, ir.BackRef{}, root["self"])
	assert.Equal(t, 1, ex.Cycles)
}

func TestExtractSharedNonCyclicNodeIsNotACycle(t *testing.T) {
	shared := ir.Object{"k": ir.Int(1)}
	ex, err := Extract(ir.Array{shared, shared}, FieldResolver{})
	require.NoError(t, err)

	assert.Equal(t, 0, ex.Cycles)
	assert.True(t, ir.Equal(ir.Array{shared, shared}, ex.Template))
}

func TestExtractResolverErrorIsConfigError(t *testing.T) {
	boom := errors.New("boom")
	r := ResolverFunc(func(obj ir.Object) (ir.Key, bool, error) {
		if _, ok := obj["bad"]; ok {
			return ir.Key{}, false, boom
		}
		return ir.Key{}, false, nil
	})

	_, err := Extract(ir.Object{"list": ir.Array{ir.Object{}, ir.Object{"bad": ir.Bool(true)}}}, r)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.ErrorIs(t, err, boom)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "$.list[1]", ce.Path)
}

func TestExtractResolverPanicIsConfigError(t *testing.T) {
	r := ResolverFunc(func(obj ir.Object) (ir.Key, bool, error) {
		panic("nil map access")
	})

	_, err := Extract(ir.Object{}, r)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "resolver panicked")
}

func TestExtractIncompleteKeyIsConfigError(t *testing.T) {
	r := ResolverFunc(func(obj ir.Object) (ir.Key, bool, error) {
		return ir.Key{Type: "user"}, true, nil
	})

	_, err := Extract(ir.Object{}, r)
	assert.True(t, IsConfigError(err))
}

func TestExtractDoesNotMutateInput(t *testing.T) {
	payload := ir.Object{"post": ir.Object{"type": ir.String("post"), "id": ir.String("1"), "author": user("1", "A")}}
	before, err := ir.Marshal(payload)
	require.NoError(t, err)

	_, err = Extract(payload, FieldResolver{})
	require.NoError(t, err)

	after, err := ir.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

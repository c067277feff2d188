package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
)

func TestLoadScenario_WorkedExample(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "worked_example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "worked_example", scenario.Name)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, QueryRef{"post", "10"}, scenario.Steps[0].Fetch)
	assert.Equal(t, []string{"post:10", "user:1"}, scenario.Steps[0].Expect.Changed)
	assert.Equal(t, []QueryRef{{"me"}, {"post", "10"}}, scenario.Steps[2].Expect.Notified)
	require.Len(t, scenario.Assertions, 6)
	assert.Equal(t, []any{"post", "author"}, scenario.Assertions[2].Path)
	require.NotNil(t, scenario.Assertions[5].Version)
	assert.Equal(t, int64(2), *scenario.Assertions[5].Version)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "scenarios", "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "name: x\ndescription: d\nstepz: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			doc:  "description: d\nsteps:\n  - fetch: [a]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			doc:  "name: x\nsteps:\n  - fetch: [a]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			doc:  "name: x\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "step without kind",
			doc:  "name: x\ndescription: d\nsteps:\n  - payload: {a: 1}\n",
			want: "steps[0]: one of fetch",
		},
		{
			name: "step with two kinds",
			doc:  "name: x\ndescription: d\nsteps:\n  - fetch: [a]\n    mutation: [b]\n",
			want: "only one of",
		},
		{
			name: "empty query key",
			doc:  "name: x\ndescription: d\nsteps:\n  - fetch: []\n",
			want: "query key must be non-empty",
		},
		{
			name: "bad set_entity key",
			doc:  "name: x\ndescription: d\nsteps:\n  - set_entity: user\n    payload: {a: 1}\n",
			want: "invalid entity key",
		},
		{
			name: "set_entity without fields",
			doc:  "name: x\ndescription: d\nsteps:\n  - set_entity: \"user:1\"\n    payload: [1]\n",
			want: "payload must be an object",
		},
		{
			name: "evict bad key",
			doc:  "name: x\ndescription: d\nsteps:\n  - evict: [\"user\"]\n",
			want: "evict: invalid entity key",
		},
		{
			name: "dispose with payload",
			doc:  "name: x\ndescription: d\nsteps:\n  - dispose: [a]\n    payload: {a: 1}\n",
			want: "payload is not allowed",
		},
		{
			name: "value on mutation",
			doc:  "name: x\ndescription: d\nsteps:\n  - mutation: [a]\n    expect: {value: 1}\n",
			want: "expect.value is only checked for fetch",
		},
		{
			name: "config and config_file",
			doc:  "name: x\ndescription: d\nconfig: {dev_logging: true}\nconfig_file: c.yaml\nsteps:\n  - fetch: [a]\n",
			want: "cannot both be set",
		},
		{
			name: "unknown assertion",
			doc:  "name: x\ndescription: d\nsteps:\n  - fetch: [a]\nassertions:\n  - type: nope\n",
			want: `unknown assertion type "nope"`,
		},
		{
			name: "reference step out of range",
			doc:  "name: x\ndescription: d\nsteps:\n  - fetch: [a]\nassertions:\n  - type: same_reference\n    query: [a]\n    steps: [1, 2]\n",
			want: "step 2 out of range 1..1",
		},
		{
			name: "version without value",
			doc:  "name: x\ndescription: d\nsteps:\n  - fetch: [a]\nassertions:\n  - type: version\n",
			want: "version is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStep_Entry(t *testing.T) {
	fetch := Step{Fetch: QueryRef{"post", 10}, Payload: map[string]any{"a": 1}}
	e, err := fetch.Entry()
	require.NoError(t, err)
	assert.Equal(t, journal.KindFetch, e.Kind)
	assert.Equal(t, ir.QueryKey(`["post",10]`), e.QueryKey)
	assert.Equal(t, ir.Object{"a": ir.Int(1)}, e.Payload)

	set := Step{SetEntity: "user:1", Payload: map[string]any{"name": "B"}}
	e, err = set.Entry()
	require.NoError(t, err)
	assert.Equal(t, journal.KindSetEntity, e.Kind)
	assert.Equal(t, "user:1", e.Target)
	assert.Empty(t, e.QueryKey)

	evict := Step{Evict: []string{"user:1", "post:2"}}
	e, err = evict.Entry()
	require.NoError(t, err)
	assert.Equal(t, ir.Array{ir.String("user:1"), ir.String("post:2")}, e.Payload)

	dispose := Step{Dispose: QueryRef{"me"}}
	e, err = dispose.Entry()
	require.NoError(t, err)
	assert.Nil(t, e.Payload)

	_, err = Step{}.Entry()
	assert.Error(t, err)
}

func TestScenario_CacheConfig(t *testing.T) {
	scenario := parseScenario(t, "name: x\ndescription: d\nsteps:\n  - fetch: [a]\n")
	cfg, err := scenario.CacheConfig()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	scenario = parseScenario(t, `
name: x
description: d
config:
  structural_sharing: false
  identity: {type_field: kind, id_field: key}
steps:
  - fetch: [a]
`)
	cfg, err = scenario.CacheConfig()
	require.NoError(t, err)
	assert.False(t, cfg.StructuralSharing)
	assert.Equal(t, "kind", cfg.Identity.TypeField)
	assert.Equal(t, "key", cfg.Identity.IDField)

	scenario = parseScenario(t, "name: x\ndescription: d\nconfig: {colour: red}\nsteps:\n  - fetch: [a]\n")
	_, err = scenario.CacheConfig()
	assert.Error(t, err)

	scenario = parseScenario(t, "name: x\ndescription: d\nconfig: {identity: {type_field: id}}\nsteps:\n  - fetch: [a]\n")
	_, err = scenario.CacheConfig()
	assert.ErrorContains(t, err, config.ErrFieldsCollide)
}

func TestLoadScenario_ConfigFileRelative(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache.cue"), []byte("structural_sharing: false\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.yaml"), []byte(`
name: x
description: d
config_file: cache.cue
steps:
  - fetch: [a]
`), 0o644))

	scenario, err := LoadScenario(filepath.Join(dir, "s.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache.cue"), scenario.ConfigFile)

	cfg, err := scenario.CacheConfig()
	require.NoError(t, err)
	assert.False(t, cfg.StructuralSharing)
	assert.Equal(t, "type", cfg.Identity.TypeField)
}

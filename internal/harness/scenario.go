package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/normcache/internal/config"
	"github.com/roach88/normcache/internal/ir"
	"github.com/roach88/normcache/internal/journal"
)

// Scenario is a sequence of cache lifecycle steps and the assertions that
// must hold once they have run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an inline cache configuration, decoded over the defaults.
	Config *yaml.Node `yaml:"config,omitempty"`

	// ConfigFile is a .yaml or .cue config file, relative to the scenario
	// file. It cannot be combined with Config.
	ConfigFile string `yaml:"config_file,omitempty"`

	// SessionID is the fixed cache instance ID, also used as the journal
	// session ID. Defaults to "test-id-default".
	SessionID string `yaml:"session_id,omitempty"`

	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// QueryRef is a query key written as a tuple, e.g. [post, "10"].
type QueryRef []any

// Key derives the cache query key from the tuple.
func (r QueryRef) Key() (ir.QueryKey, error) {
	return ir.QueryKeyOf(r...)
}

// Step is one lifecycle call. Exactly one of Fetch, Mutation, Dispose,
// SetEntity and Evict is set.
type Step struct {
	Fetch     QueryRef `yaml:"fetch,omitempty"`
	Mutation  QueryRef `yaml:"mutation,omitempty"`
	Dispose   QueryRef `yaml:"dispose,omitempty"`
	SetEntity string   `yaml:"set_entity,omitempty"`
	Evict     []string `yaml:"evict,omitempty"`

	// Payload is the fetch or mutation result, or the fields written by
	// set_entity.
	Payload any `yaml:"payload,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks the outcome of one step. Nil lists are not checked; an
// empty list asserts that nothing was reported.
type Expect struct {
	// Value is the materialized value a fetch returns.
	Value any `yaml:"value,omitempty"`

	Changed      []string   `yaml:"changed,omitempty"`
	Created      []string   `yaml:"created,omitempty"`
	Notified     []QueryRef `yaml:"notified,omitempty"`
	Unreferenced []string   `yaml:"unreferenced,omitempty"`

	// Error is a substring the step's error must contain. A step that
	// expects an error is not journaled.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks the state after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Query is used by query_value, dependencies, same_reference and
	// new_reference.
	Query QueryRef `yaml:"query,omitempty"`

	// Entity is a "type:id" key, used by entity_value and missing_entity.
	Entity string `yaml:"entity,omitempty"`

	// Expect is the expected value (query_value, entity_value).
	Expect any `yaml:"expect,omitempty"`

	// Keys are "type:id" keys (unreferenced, dependencies).
	Keys []string `yaml:"keys,omitempty"`

	// Version is the expected store version (version).
	Version *int64 `yaml:"version,omitempty"`

	// Steps are two 1-based step numbers whose observed values of Query
	// are compared by reference (same_reference, new_reference).
	Steps []int `yaml:"steps,omitempty"`

	// Path selects a subtree of the observed values: strings index
	// objects, integers index arrays.
	Path []any `yaml:"path,omitempty"`
}

// Assertion type constants.
const (
	AssertQueryValue    = "query_value"
	AssertEntityValue   = "entity_value"
	AssertMissingEntity = "missing_entity"
	AssertUnreferenced  = "unreferenced"
	AssertDependencies  = "dependencies"
	AssertVersion       = "version"
	AssertSameReference = "same_reference"
	AssertNewReference  = "new_reference"
)

// LoadScenario reads and parses a scenario YAML file. A relative
// config_file is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.ConfigFile != "" && !filepath.IsAbs(scenario.ConfigFile) {
		scenario.ConfigFile = filepath.Join(filepath.Dir(path), scenario.ConfigFile)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Unknown fields are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// CacheConfig returns the configuration the scenario runs with.
func (s *Scenario) CacheConfig() (config.Config, error) {
	switch {
	case s.ConfigFile != "":
		return config.Load(s.ConfigFile)
	case s.Config != nil:
		data, err := yaml.Marshal(s.Config)
		if err != nil {
			return config.Config{}, fmt.Errorf("scenario config: %w", err)
		}
		cfg, err := config.ParseYAML(s.Name, data)
		if err != nil {
			return config.Config{}, err
		}
		if err := cfg.Err(); err != nil {
			return config.Config{}, fmt.Errorf("scenario config: %w", err)
		}
		return cfg, nil
	default:
		return config.Default(), nil
	}
}

// Kind names the lifecycle call of s.
func (s Step) Kind() (journal.Kind, error) {
	var kinds []journal.Kind
	if s.Fetch != nil {
		kinds = append(kinds, journal.KindFetch)
	}
	if s.Mutation != nil {
		kinds = append(kinds, journal.KindMutation)
	}
	if s.Dispose != nil {
		kinds = append(kinds, journal.KindDispose)
	}
	if s.SetEntity != "" {
		kinds = append(kinds, journal.KindSetEntity)
	}
	if s.Evict != nil {
		kinds = append(kinds, journal.KindEvict)
	}

	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("one of fetch, mutation, dispose, set_entity or evict is required")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("only one of fetch, mutation, dispose, set_entity or evict may be set, got %v", kinds)
	}
}

// Entry converts s into the journal entry that describes its input.
// Outcome fields are left zero.
func (s Step) Entry() (journal.Entry, error) {
	kind, err := s.Kind()
	if err != nil {
		return journal.Entry{}, err
	}

	e := journal.Entry{Kind: kind, Changed: []ir.Key{}}
	switch kind {
	case journal.KindFetch:
		e.QueryKey, err = s.Fetch.Key()
	case journal.KindMutation:
		e.QueryKey, err = s.Mutation.Key()
	case journal.KindDispose:
		e.QueryKey, err = s.Dispose.Key()
	case journal.KindSetEntity:
		e.Target = s.SetEntity
	case journal.KindEvict:
		keys := make(ir.Array, len(s.Evict))
		for i, k := range s.Evict {
			keys[i] = ir.String(k)
		}
		e.Payload = keys
	}
	if err != nil {
		return journal.Entry{}, err
	}

	if kind == journal.KindFetch || kind == journal.KindMutation || kind == journal.KindSetEntity {
		e.Payload, err = ir.FromAny(s.Payload)
		if err != nil {
			return journal.Entry{}, fmt.Errorf("payload: %w", err)
		}
	}
	return e, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Config != nil && s.ConfigFile != "" {
		return fmt.Errorf("config and config_file cannot both be set")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, len(s.Steps)); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(step Step) error {
	kind, err := step.Kind()
	if err != nil {
		return err
	}

	switch kind {
	case journal.KindFetch, journal.KindMutation, journal.KindDispose:
		if len(step.Fetch)+len(step.Mutation)+len(step.Dispose) == 0 {
			return fmt.Errorf("%s: query key must be non-empty", kind)
		}
	case journal.KindSetEntity:
		if _, err := ir.ParseKey(step.SetEntity); err != nil {
			return fmt.Errorf("set_entity: %w", err)
		}
		if _, ok := step.Payload.(map[string]any); !ok {
			return fmt.Errorf("set_entity: payload must be an object of fields")
		}
	case journal.KindEvict:
		if len(step.Evict) == 0 {
			return fmt.Errorf("evict: at least one key is required")
		}
		if err := validateKeys(step.Evict); err != nil {
			return fmt.Errorf("evict: %w", err)
		}
	}

	if kind == journal.KindDispose || kind == journal.KindEvict {
		if step.Payload != nil {
			return fmt.Errorf("%s: payload is not allowed", kind)
		}
	}

	if step.Expect != nil {
		if step.Expect.Value != nil && kind != journal.KindFetch {
			return fmt.Errorf("expect.value is only checked for fetch steps")
		}
		if step.Expect.Unreferenced != nil && kind != journal.KindDispose {
			return fmt.Errorf("expect.unreferenced is only checked for dispose steps")
		}
		for _, keys := range [][]string{step.Expect.Changed, step.Expect.Created, step.Expect.Unreferenced} {
			if err := validateKeys(keys); err != nil {
				return fmt.Errorf("expect: %w", err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertQueryValue:
		if len(a.Query) == 0 {
			return fmt.Errorf("assertions[%d]: query is required for query_value", index)
		}
	case AssertEntityValue, AssertMissingEntity:
		if _, err := ir.ParseKey(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: entity is required for %s: %w", index, a.Type, err)
		}
		if a.Type == AssertEntityValue && a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for entity_value", index)
		}
	case AssertUnreferenced:
		if err := validateKeys(a.Keys); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertDependencies:
		if len(a.Query) == 0 {
			return fmt.Errorf("assertions[%d]: query is required for dependencies", index)
		}
		if err := validateKeys(a.Keys); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertVersion:
		if a.Version == nil {
			return fmt.Errorf("assertions[%d]: version is required for version", index)
		}
	case AssertSameReference, AssertNewReference:
		if len(a.Query) == 0 {
			return fmt.Errorf("assertions[%d]: query is required for %s", index, a.Type)
		}
		if len(a.Steps) != 2 {
			return fmt.Errorf("assertions[%d]: steps must name exactly two steps for %s", index, a.Type)
		}
		for _, n := range a.Steps {
			if n < 1 || n > steps {
				return fmt.Errorf("assertions[%d]: step %d out of range 1..%d", index, n, steps)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validateKeys(keys []string) error {
	for _, k := range keys {
		if _, err := ir.ParseKey(k); err != nil {
			return err
		}
	}
	return nil
}

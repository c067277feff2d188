package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/normcache/internal/cache"
	"github.com/roach88/normcache/internal/ir"
)

// AssertionContext provides what final assertions inspect.
type AssertionContext struct {
	Cache  *cache.Cache
	Result *Result
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		target := event.Query
		if event.Target != "" {
			target = event.Target
		}
		fmt.Fprintf(&buf, "  [%d] %s %s v%d changed=%v\n", event.Step, event.Kind, target, event.Version, event.Changed)
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages, in assertion order.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i+1, err))
		}
	}
	return errs
}

func evaluateAssertion(a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertQueryValue:
		return assertQueryValue(a, actx)
	case AssertEntityValue:
		return assertEntityValue(a, actx)
	case AssertMissingEntity:
		return assertMissingEntity(a, actx)
	case AssertUnreferenced:
		return assertKeys(a, "unreferenced entities", actx.Cache.Unreferenced(), actx)
	case AssertDependencies:
		q, err := a.Query.Key()
		if err != nil {
			return err
		}
		return assertKeys(a, "dependencies of "+string(q), actx.Cache.Dependencies(q), actx)
	case AssertVersion:
		return assertVersion(a, actx)
	case AssertSameReference, AssertNewReference:
		return assertReference(a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertQueryValue compares the query's current value with the expected
// value.
func assertQueryValue(a Assertion, actx *AssertionContext) error {
	q, err := a.Query.Key()
	if err != nil {
		return err
	}
	want, err := ir.FromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}

	got, ok := actx.Cache.DenormalizeForQuery(q)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("query %s with value %s", q, render(want)),
			Actual:   "query not registered",
			Trace:    actx.Result.Trace,
		}
	}
	if !ir.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: render(want),
			Actual:   render(got),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

func assertEntityValue(a Assertion, actx *AssertionContext) error {
	k, err := ir.ParseKey(a.Entity)
	if err != nil {
		return err
	}
	want, err := ir.FromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}

	got, ok := actx.Cache.Entity(k)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entity %s with value %s", k, render(want)),
			Actual:   "entity not in store",
			Trace:    actx.Result.Trace,
		}
	}
	if !ir.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: render(want),
			Actual:   render(got),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

func assertMissingEntity(a Assertion, actx *AssertionContext) error {
	k, err := ir.ParseKey(a.Entity)
	if err != nil {
		return err
	}
	if got, ok := actx.Cache.Entity(k); ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entity %s absent", k),
			Actual:   render(got),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

// assertKeys compares a key list exactly, order included.
func assertKeys(a Assertion, what string, got []ir.Key, actx *AssertionContext) error {
	want := a.Keys
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(want, keyStrings(got)) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s %v", what, want),
			Actual:   fmt.Sprintf("%v", keyStrings(got)),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

func assertVersion(a Assertion, actx *AssertionContext) error {
	if got := actx.Cache.Version(); got != *a.Version {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("store version %d", *a.Version),
			Actual:   fmt.Sprintf("store version %d", got),
			Trace:    actx.Result.Trace,
		}
	}
	return nil
}

// assertReference compares, by reference, the values the consumer held
// for a query after two steps.
func assertReference(a Assertion, actx *AssertionContext) error {
	q, err := a.Query.Key()
	if err != nil {
		return err
	}

	var vals [2]ir.Value
	for i, n := range a.Steps {
		v, ok := actx.Result.Observed(n, q)
		if !ok {
			return fmt.Errorf("%s: no value observed for %s after step %d", a.Type, q, n)
		}
		sub, err := selectPath(v, a.Path)
		if err != nil {
			return fmt.Errorf("%s: step %d: %w", a.Type, n, err)
		}
		vals[i] = sub
	}

	same := ir.Same(vals[0], vals[1])
	if same == (a.Type == AssertSameReference) {
		return nil
	}

	expected := fmt.Sprintf("%s%v after steps %d and %d to be the same reference", q, a.Path, a.Steps[0], a.Steps[1])
	actual := "different references"
	if a.Type == AssertNewReference {
		expected = fmt.Sprintf("%s%v after steps %d and %d to be different references", q, a.Path, a.Steps[0], a.Steps[1])
		actual = "same reference"
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: expected,
		Actual:   actual,
		Trace:    actx.Result.Trace,
	}
}

// checkExpect compares one step's trace event with its expectations.
func checkExpect(e *Expect, event TraceEvent) []string {
	var errs []string

	if e.Value != nil {
		want, err := ir.FromAny(e.Value)
		switch {
		case err != nil:
			errs = append(errs, fmt.Sprintf("expect.value: %v", err))
		case !ir.Equal(want, event.Value):
			errs = append(errs, fmt.Sprintf("value: expected %s, got %s", render(want), render(event.Value)))
		}
	}

	check := func(field string, want, got []string) {
		if want != nil && !slices.Equal(want, got) {
			errs = append(errs, fmt.Sprintf("%s: expected %v, got %v", field, want, got))
		}
	}
	check("changed", e.Changed, event.Changed)
	check("created", e.Created, event.Created)
	check("unreferenced", e.Unreferenced, event.Unreferenced)

	if e.Notified != nil {
		want := make([]string, 0, len(e.Notified))
		for _, ref := range e.Notified {
			q, err := ref.Key()
			if err != nil {
				errs = append(errs, fmt.Sprintf("expect.notified: %v", err))
				return errs
			}
			want = append(want, string(q))
		}
		check("notified", want, event.Notified)
	}
	return errs
}

// selectPath walks path: strings index objects, integers index arrays.
func selectPath(v ir.Value, path []any) (ir.Value, error) {
	for _, p := range path {
		switch seg := p.(type) {
		case string:
			obj, ok := v.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("path %v: %q applied to %s", path, seg, ir.KindOf(v))
			}
			field, ok := obj[seg]
			if !ok {
				return nil, fmt.Errorf("path %v: no field %q", path, seg)
			}
			v = field
		case int:
			arr, ok := v.(ir.Array)
			if !ok {
				return nil, fmt.Errorf("path %v: [%d] applied to %s", path, seg, ir.KindOf(v))
			}
			if seg < 0 || seg >= len(arr) {
				return nil, fmt.Errorf("path %v: index %d out of range", path, seg)
			}
			v = arr[seg]
		default:
			return nil, fmt.Errorf("path %v: unsupported segment %T", path, p)
		}
	}
	return v, nil
}

// render formats a value for failure messages.
func render(v ir.Value) string {
	b, err := ir.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", ir.KindOf(v), err)
	}
	return string(b)
}

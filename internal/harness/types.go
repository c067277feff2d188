package harness

import (
	"github.com/roach88/normcache/internal/cache"
	"github.com/roach88/normcache/internal/ir"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step  int    `json:"step"`
	Kind  string `json:"kind"`
	Query string `json:"query,omitempty"`

	// Target is the entity key of a set_entity step.
	Target string `json:"target,omitempty"`

	Version      int64    `json:"version"`
	Changed      []string `json:"changed"`
	Created      []string `json:"created"`
	Notified     []string `json:"notified"`
	Unreferenced []string `json:"unreferenced,omitempty"`

	// Value is the materialized value a fetch returned.
	Value ir.Value `json:"value,omitempty"`

	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// SessionID is the cache instance ID, and the journal session when
	// the run was journaled.
	SessionID string `json:"session_id"`

	Stats cache.Stats `json:"stats"`

	// observed holds, after each step, the latest value the consumer has
	// seen for each query: fetch results and sink pushes.
	observed []map[ir.QueryKey]ir.Value
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Observed returns the value of q the consumer held after step n
// (1-based).
func (r *Result) Observed(n int, q ir.QueryKey) (ir.Value, bool) {
	if n < 1 || n > len(r.observed) {
		return nil, false
	}
	v, ok := r.observed[n-1][q]
	return v, ok
}

// View returns the value of every query the consumer held after the last
// step.
func (r *Result) View() map[ir.QueryKey]ir.Value {
	if len(r.observed) == 0 {
		return map[ir.QueryKey]ir.Value{}
	}
	return r.observed[len(r.observed)-1]
}

func keyStrings(keys []ir.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func queryStrings(qs []ir.QueryKey) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = string(q)
	}
	return out
}

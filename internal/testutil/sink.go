package testutil

import "github.com/roach88/normcache/internal/ir"

// Push is one recorded SetQueryData call.
type Push struct {
	Query ir.QueryKey
	Value ir.Value
}

// RecordingSink records every query value pushed to it, in order.
type RecordingSink struct {
	Pushes []Push
}

// SetQueryData records the push.
func (s *RecordingSink) SetQueryData(q ir.QueryKey, v ir.Value) {
	s.Pushes = append(s.Pushes, Push{Query: q, Value: v})
}

// Last returns the most recent value pushed for q.
func (s *RecordingSink) Last(q ir.QueryKey) (ir.Value, bool) {
	for i := len(s.Pushes) - 1; i >= 0; i-- {
		if s.Pushes[i].Query == q {
			return s.Pushes[i].Value, true
		}
	}
	return nil, false
}

// Queries returns the pushed query keys in push order.
func (s *RecordingSink) Queries() []ir.QueryKey {
	out := make([]ir.QueryKey, len(s.Pushes))
	for i, p := range s.Pushes {
		out[i] = p.Query
	}
	return out
}

// Reset forgets every push.
func (s *RecordingSink) Reset() {
	s.Pushes = nil
}

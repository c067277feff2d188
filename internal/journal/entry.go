package journal

import (
	"github.com/roach88/normcache/internal/ir"
)

// Kind names a lifecycle step.
type Kind string

const (
	KindFetch     Kind = "fetch"
	KindMutation  Kind = "mutation"
	KindDispose   Kind = "dispose"
	KindSetEntity Kind = "set_entity"
	KindEvict     Kind = "evict"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFetch, KindMutation, KindDispose, KindSetEntity, KindEvict:
		return true
	}
	return false
}

// Session is one journaled cache instance.
type Session struct {
	ID    string `json:"id"`
	Label string `json:"label"`

	// Config is the canonical JSON of the cache configuration.
	Config string `json:"config"`
}

// Entry is one journaled step.
type Entry struct {
	SessionID string      `json:"session_id"`
	Step      int64       `json:"step"`
	Kind      Kind        `json:"kind"`
	QueryKey  ir.QueryKey `json:"query_key,omitempty"`

	// Target is the entity key of a set_entity step.
	Target string `json:"target,omitempty"`

	// Payload is the step input. Evict steps store the key list; dispose
	// steps store nothing.
	Payload ir.Value `json:"payload,omitempty"`

	Version int64    `json:"version"`
	Changed []ir.Key `json:"changed"`

	// Digest is the ir.ValueDigest of the value the step produced for
	// QueryKey, when there is one.
	Digest string `json:"digest,omitempty"`
}

package journal

import (
	"context"
	"fmt"
)

// BeginSession records a new session. Recording the same session ID again
// is a no-op.
func (j *Journal) BeginSession(ctx context.Context, s Session) error {
	if s.ID == "" {
		return fmt.Errorf("begin session: empty id")
	}
	if s.Config == "" {
		s.Config = "{}"
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, label, config)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.ID, s.Label, s.Config)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	return nil
}

// Append writes one step. Writing the same (session, step) twice keeps
// the first write. The session must exist.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("append step %d: unknown kind %q", e.Step, e.Kind)
	}

	payload, err := marshalPayload(e.Payload)
	if err != nil {
		return fmt.Errorf("append step %d: %w", e.Step, err)
	}
	changed, err := marshalKeys(e.Changed)
	if err != nil {
		return fmt.Errorf("append step %d: %w", e.Step, err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO entries
		(session_id, step, kind, query_key, target, payload, version, changed, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, step) DO NOTHING
	`,
		e.SessionID,
		e.Step,
		string(e.Kind),
		string(e.QueryKey),
		e.Target,
		payload,
		e.Version,
		changed,
		e.Digest,
	)
	if err != nil {
		return fmt.Errorf("append step %d: %w", e.Step, err)
	}
	return nil
}

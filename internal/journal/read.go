package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/normcache/internal/ir"
)

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("journal: session not found")

// Sessions returns every session in insertion order.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, label, config
		FROM sessions
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Label, &s.Config); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Session returns one session.
func (j *Journal) Session(ctx context.Context, id string) (Session, error) {
	var s Session
	err := j.db.QueryRowContext(ctx, `
		SELECT id, label, config FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.Label, &s.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}

// LatestSession returns the most recently started session.
func (j *Journal) LatestSession(ctx context.Context) (Session, error) {
	var s Session
	err := j.db.QueryRowContext(ctx, `
		SELECT id, label, config FROM sessions ORDER BY rowid DESC LIMIT 1
	`).Scan(&s.ID, &s.Label, &s.Config)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("query latest session: %w", err)
	}
	return s, nil
}

// Entries returns a session's steps ordered by step number. An unknown
// session yields an empty slice.
func (j *Journal) Entries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session_id, step, kind, query_key, target, payload, version, changed, digest
		FROM entries
		WHERE session_id = ?
		ORDER BY step ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// EntriesForQuery returns every step touching q across sessions, ordered
// by session then step.
func (j *Journal) EntriesForQuery(ctx context.Context, q ir.QueryKey) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT e.session_id, e.step, e.kind, e.query_key, e.target, e.payload, e.version, e.changed, e.digest
		FROM entries e
		JOIN sessions s ON s.id = e.session_id
		WHERE e.query_key = ?
		ORDER BY s.rowid ASC, e.step ASC
	`, string(q))
	if err != nil {
		return nil, fmt.Errorf("query entries for %s: %w", q, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e        Entry
		kind     string
		queryKey string
		payload  sql.NullString
		changed  string
	)
	if err := rows.Scan(&e.SessionID, &e.Step, &kind, &queryKey, &e.Target, &payload, &e.Version, &changed, &e.Digest); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Kind = Kind(kind)
	e.QueryKey = ir.QueryKey(queryKey)

	var err error
	if e.Payload, err = unmarshalPayload(payload); err != nil {
		return Entry{}, fmt.Errorf("entry %d: %w", e.Step, err)
	}
	if e.Changed, err = unmarshalKeys(changed); err != nil {
		return Entry{}, fmt.Errorf("entry %d: %w", e.Step, err)
	}
	return e, nil
}

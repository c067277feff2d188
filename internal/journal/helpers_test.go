package journal

import (
	"context"
	"path/filepath"
	"testing"
)

// openTestJournal opens a journal in a temp dir and begins session "s1".
func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	if err := j.BeginSession(context.Background(), Session{ID: "s1", Label: "test"}); err != nil {
		t.Fatalf("BeginSession() failed: %v", err)
	}
	return j
}

package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/normcache/internal/journal"
)

func runScenario(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()
	return Run(context.Background(), scenario, opts...)
}

func parseScenario(t *testing.T, doc string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return scenario
}

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

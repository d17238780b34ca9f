package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/store"
	"github.com/nasri82/cardinsa-pricing/store/sqlite"
	"github.com/nasri82/cardinsa-pricing/store/storetest"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return newStore(t) })
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: A rule written to a database file
	// WHEN: The store is closed and reopened
	// THEN: The rule is read back unchanged

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pricing.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateRule(ctx, storetest.Rule("r1", "Senior loading")))
	require.NoError(t, s.Close())

	s, err = sqlite.New(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Senior loading", got.Name)
	assert.Equal(t, "age", got.AppliesTo)
}

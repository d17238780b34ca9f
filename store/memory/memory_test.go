package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasri82/cardinsa-pricing/store"
	"github.com/nasri82/cardinsa-pricing/store/memory"
	"github.com/nasri82/cardinsa-pricing/store/storetest"
)

func TestMemoryRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository { return memory.New() })
}

func TestMemory_ReturnsCopies(t *testing.T) {
	// GIVEN: A stored rule
	// WHEN: The caller mutates the returned value
	// THEN: The stored rule is unaffected

	ctx := context.Background()
	repo := memory.New()
	require.NoError(t, repo.CreateRule(ctx, storetest.Rule("r1", "Senior loading")))

	got, err := repo.GetRule(ctx, "r1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := repo.GetRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Senior loading", again.Name)
}

package policystore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismesh/sentrynode/internal/localstore"
)

func TestStorePolicyIsContentAddressedAndIdempotent(t *testing.T) {
	backend := localstore.NewMemory(localstore.MemoryConfig{})
	store := New(backend, nil)
	ctx := context.Background()

	data := []byte("canonical-policy-bytes")
	id1, err := store.StorePolicy(ctx, data, map[string]string{"name": "p"})
	require.NoError(t, err)

	id2, err := store.StorePolicy(ctx, data, map[string]string{"name": "p"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.Count())

	got, err := store.GetPolicy(ctx, id1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, data, got.Data)
}

func TestGetPolicyFallsThroughToBackendOnCacheMiss(t *testing.T) {
	backend := localstore.NewMemory(localstore.MemoryConfig{})
	store := New(backend, nil)
	ctx := context.Background()

	data := []byte("policy-bytes")
	id, err := store.StorePolicy(ctx, data, nil)
	require.NoError(t, err)

	// Simulate a cold cache by constructing a fresh Store over the
	// same backend and reading without Initialize.
	coldStore := New(backend, nil)
	got, err := coldStore.GetPolicy(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, data, got.Data)
}

func TestInitializeRebuildsCacheFromBackend(t *testing.T) {
	backend := localstore.NewMemory(localstore.MemoryConfig{})
	ctx := context.Background()

	seed := New(backend, nil)
	for _, data := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		_, err := seed.StorePolicy(ctx, data, nil)
		require.NoError(t, err)
	}

	fresh := New(backend, nil)
	require.NoError(t, fresh.Initialize(ctx, InitOptions{}))
	assert.Equal(t, 3, fresh.Count())
}

func TestListPoliciesSortedAndPaginated(t *testing.T) {
	backend := localstore.NewMemory(localstore.MemoryConfig{})
	store := New(backend, nil)
	ctx := context.Background()

	for _, data := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		_, err := store.StorePolicy(ctx, data, nil)
		require.NoError(t, err)
	}

	all := store.ListPolicies(0, 0)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1], all[i])
	}

	page := store.ListPolicies(1, 1)
	require.Len(t, page, 1)
	assert.Equal(t, all[1], page[0])
}

func TestRemovePolicyPurgesBothTiers(t *testing.T) {
	backend := localstore.NewMemory(localstore.MemoryConfig{})
	store := New(backend, nil)
	ctx := context.Background()

	id, err := store.StorePolicy(ctx, []byte("doomed"), nil)
	require.NoError(t, err)

	removed, err := store.RemovePolicy(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := store.GetPolicy(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	removedAgain, err := store.RemovePolicy(ctx, id)
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

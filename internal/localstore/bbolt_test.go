package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegismesh/sentrynode/internal/storetypes"
	"github.com/aegismesh/sentrynode/internal/vectorclock"
)

func openTestDurable(t *testing.T) *Durable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentrynode.db")
	d, err := OpenDurable(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDurableStoreRetrieveRoundTrip(t *testing.T) {
	d := openTestDurable(t)
	ctx := context.Background()

	entry := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	resp, err := d.Store(ctx, entry)
	require.NoError(t, err)
	assert.True(t, resp.Stored)

	got, err := d.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Payload, got.Payload)
}

func TestDurableSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentrynode.db")
	ctx := context.Background()

	d, err := OpenDurable(path, nil)
	require.NoError(t, err)
	_, err = d.Store(ctx, newEntry("id-1", 0, vectorclock.WithPeer("n1", 1)))
	require.NoError(t, err)
	require.NoError(t, d.Close())

	reopened, err := OpenDurable(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestDurableConflictResolution(t *testing.T) {
	d := openTestDurable(t)
	ctx := context.Background()

	older := newEntry("id-1", 0, vectorclock.WithPeer("n1", 1))
	newer := newEntry("id-1", 0, vectorclock.WithPeer("n1", 2))
	newer.Payload = []byte("newer")

	_, err := d.Store(ctx, older)
	require.NoError(t, err)
	_, err = d.Store(ctx, newer)
	require.NoError(t, err)

	got, err := d.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, newer.Payload, got.Payload)

	resp, err := d.Store(ctx, older)
	require.NoError(t, err)
	assert.False(t, resp.Stored)
}

func TestDurableRetrieveExpiredDeletesLazily(t *testing.T) {
	d := openTestDurable(t)
	ctx := context.Background()

	entry := newEntry("id-1", 0, nil)
	entry.TTL = 1
	entry.CreatedAt = uint64(time.Now().Add(-time.Hour).Unix())
	_, err := d.Store(ctx, entry)
	require.NoError(t, err)

	got, err := d.Retrieve(ctx, "id-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ids, err := d.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDurablePruneRemovesExpired(t *testing.T) {
	d := openTestDurable(t)
	ctx := context.Background()

	fresh := newEntry("fresh", 0, nil)
	expired := newEntry("expired", 0, nil)
	expired.TTL = 1
	expired.CreatedAt = uint64(time.Now().Add(-time.Hour).Unix())

	_, err := d.Store(ctx, fresh)
	require.NoError(t, err)
	_, err = d.Store(ctx, expired)
	require.NoError(t, err)

	removed, err := d.Prune(ctx, func() int64 { return time.Now().Unix() })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestDurablePolicyAndPeerPersistence(t *testing.T) {
	d := openTestDurable(t)
	ctx := context.Background()

	stored, err := d.StorePolicy(ctx, &storetypes.PolicyEntry{ID: "p1", Data: []byte("data")})
	require.NoError(t, err)
	assert.True(t, stored)

	got, err := d.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("data"), got.Data)

	require.NoError(t, d.StorePeer(ctx, &storetypes.PeerRecord{ID: "peer-1", Endpoint: "10.0.0.1:9000"}))
	peers, err := d.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
}

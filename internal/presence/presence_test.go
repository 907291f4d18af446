package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/observatory/internal/store/storetest"
)

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	kv, _ := storetest.NewRedisStore(t)
	now := time.UnixMilli(1700000000000)
	tr := NewTracker(kv)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestHeartbeatCountsVisitors(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	snap, err := tr.Heartbeat(ctx, "10.0.0.1", "se")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Visitors)
	assert.Equal(t, int64(1), snap.TotalVisitors)
	assert.Equal(t, []string{"🇸🇪"}, snap.Flags)

	_, err = tr.Heartbeat(ctx, "10.0.0.2", "SE")
	require.NoError(t, err)
	snap, err = tr.Heartbeat(ctx, "10.0.0.3", "US")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Visitors)
	assert.Equal(t, int64(3), snap.TotalVisitors)
	assert.Equal(t, []string{"🇸🇪", "🇺🇸"}, snap.Flags)

	// A repeat heartbeat refreshes, it does not add.
	snap, err = tr.Heartbeat(ctx, "10.0.0.1", "SE")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Visitors)
	assert.Equal(t, int64(3), snap.TotalVisitors)
}

func TestVisitorsExpire(t *testing.T) {
	tr, now := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.Heartbeat(ctx, "10.0.0.1", "SE")
	require.NoError(t, err)

	*now = now.Add(VisitorTTL / 2)
	_, err = tr.Heartbeat(ctx, "10.0.0.2", "US")
	require.NoError(t, err)

	*now = now.Add(VisitorTTL/2 + time.Millisecond)
	snap, err := tr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Visitors)
	assert.Equal(t, []string{"🇺🇸"}, snap.Flags)
	assert.Equal(t, int64(2), snap.TotalVisitors, "total never expires")

	*now = now.Add(VisitorTTL)
	snap, err = tr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Visitors)
	assert.Empty(t, snap.Flags)
}

func TestNilTracker(t *testing.T) {
	var tr *Tracker
	ctx := context.Background()

	snap, err := tr.Heartbeat(ctx, "10.0.0.1", "de")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Visitors: 1, TotalVisitors: 1, Flags: []string{"🇩🇪"}}, snap)

	snap, err = tr.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{whiteFlag}, snap.Flags)
}

func TestStoreUnavailable(t *testing.T) {
	kv, mr := storetest.NewRedisStore(t)
	tr := NewTracker(kv)
	mr.Close()

	_, err := tr.Heartbeat(context.Background(), "10.0.0.1", "SE")
	assert.Error(t, err)
	_, err = tr.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestNormalizeCountry(t *testing.T) {
	assert.Equal(t, "SE", NormalizeCountry(" se "))
	assert.Equal(t, "UN", NormalizeCountry(""))
	assert.Equal(t, "UN", NormalizeCountry("SWE"))
	assert.Equal(t, "UN", NormalizeCountry("1A"))
	assert.Equal(t, whiteFlag, Flag(""))
}

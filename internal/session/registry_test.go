package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/gwerr"
)

type fakeProber struct{ healthy bool }

func (f fakeProber) IsHealthy(string) bool { return f.healthy }

func TestRegistry_OpenAndResolve(t *testing.T) {
	r := New(nil)
	id, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", ClientInfo{Identity: "10.0.0.1", ConsumerID: "consumer-a"}, nil)
	require.NoError(t, err)

	resolved, ok := r.Resolve("consumer-a")
	require.True(t, ok)
	assert.Equal(t, id, resolved)

	resolved, ok = r.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, id, resolved)
}

func TestRegistry_Attach(t *testing.T) {
	r := New(nil)
	id, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", ClientInfo{}, nil)
	require.NoError(t, err)

	require.NoError(t, r.Attach(id, "second-alias"))
	resolved, ok := r.Resolve("second-alias")
	require.True(t, ok)
	assert.Equal(t, id, resolved)
}

func TestRegistry_ConflictPolicy_RejectsWhenHealthy(t *testing.T) {
	r := New(nil)
	client := ClientInfo{Identity: "10.0.0.1"}
	_, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", client, fakeProber{healthy: true})
	require.NoError(t, err)

	_, err = r.Open(context.Background(), "chan-1", "http://upstream/a.ts", client, fakeProber{healthy: true})
	require.Error(t, err)
	assert.Equal(t, gwerr.SessionConflict, gwerr.KindOf(err))
}

func TestRegistry_ConflictPolicy_ReplacesWhenUnhealthy(t *testing.T) {
	r := New(nil)
	client := ClientInfo{Identity: "10.0.0.1"}
	first, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", client, fakeProber{healthy: false})
	require.NoError(t, err)

	second, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", client, fakeProber{healthy: false})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, ok := r.Resolve(first)
	assert.False(t, ok)
}

func TestRegistry_CloseRemovesAliases(t *testing.T) {
	r := New(nil)
	id, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", ClientInfo{ConsumerID: "alias-1"}, nil)
	require.NoError(t, err)

	r.Close(context.Background(), id, "test_close")

	_, ok := r.Resolve(id)
	assert.False(t, ok)
	_, ok = r.Resolve("alias-1")
	assert.False(t, ok)
}

func TestRegistry_TouchActivityIsMonotonic(t *testing.T) {
	r := New(nil)
	id, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", ClientInfo{}, nil)
	require.NoError(t, err)

	snap, _ := r.Get(id)
	first := snap.LastActivityAt

	r.TouchActivity(id, ActivityProbe)
	snap, _ = r.Get(id)
	assert.False(t, snap.LastActivityAt.Before(first))
}

func TestRegistry_Snapshot(t *testing.T) {
	r := New(nil)
	_, err := r.Open(context.Background(), "chan-1", "http://upstream/a.ts", ClientInfo{}, nil)
	require.NoError(t, err)
	_, err = r.Open(context.Background(), "chan-2", "http://upstream/b.ts", ClientInfo{}, nil)
	require.NoError(t, err)

	snaps := r.Snapshot()
	assert.Len(t, snaps, 2)
}

package preview

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/gwerr"
)

func newTestManager(t *testing.T, maxConcurrent int64, idleTimeout time.Duration) *Manager {
	t.Helper()
	return New(maxConcurrent, "sh", []string{"-c", "echo hello; sleep 2"}, idleTimeout, zerolog.New(io.Discard))
}

func TestManager_StartDeliversBytes(t *testing.T) {
	m := newTestManager(t, 3, 30*time.Second)
	s, err := m.Start(context.Background(), "ignored")
	require.NoError(t, err)
	defer s.Close()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	select {
	case <-sub.Chan:
	case <-time.After(3 * time.Second):
		t.Fatal("preview subscriber never received a chunk")
	}
}

func TestManager_RejectsOverCap(t *testing.T) {
	m := newTestManager(t, 1, 30*time.Second)

	s1, err := m.Start(context.Background(), "ignored")
	require.NoError(t, err)
	defer s1.Close()

	_, err = m.Start(context.Background(), "ignored")
	require.Error(t, err)
	assert.Equal(t, gwerr.CapacityExhausted, gwerr.KindOf(err))
}

func TestManager_SlotFreedOnClose(t *testing.T) {
	m := newTestManager(t, 1, 30*time.Second)

	s1, err := m.Start(context.Background(), "ignored")
	require.NoError(t, err)
	s1.Close()

	require.Eventually(t, func() bool {
		_, err := m.Start(context.Background(), "ignored")
		return err == nil
	}, 3*time.Second, 10*time.Millisecond, "slot must free once the session is closed")
}

func TestSession_ClosesAfterIdleTimeoutWithNoSubscribers(t *testing.T) {
	m := newTestManager(t, 3, 150*time.Millisecond)
	s, err := m.Start(context.Background(), "ignored")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closed
	}, 3*time.Second, 10*time.Millisecond, "idle preview session should self-close")
}

func TestSession_DoesNotIdleCloseWhileSubscribed(t *testing.T) {
	m := newTestManager(t, 3, 150*time.Millisecond)
	s, err := m.Start(context.Background(), "ignored")
	require.NoError(t, err)
	defer s.Close()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	time.Sleep(400 * time.Millisecond)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	assert.False(t, closed, "a subscribed preview session must not idle-close")
}

package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHub_PublishDeliversToAllSubscribers(t *testing.T) {
	h := New(0)
	defer h.Close()

	s1 := h.Subscribe(JoinLive)
	s2 := h.Subscribe(JoinLive)

	h.Publish([]byte("chunk-a"))

	assert.Equal(t, []byte("chunk-a"), <-s1.Chan)
	assert.Equal(t, []byte("chunk-a"), <-s2.Chan)
}

func TestHub_SlowSubscriberDetached(t *testing.T) {
	h := New(0)
	defer h.Close()

	slow := h.Subscribe(JoinLive)

	for i := 0; i < subscriberQueueDepth+10; i++ {
		h.Publish([]byte{byte(i)})
	}

	// Give the detach goroutine-free synchronous path a moment; Publish is
	// synchronous so this should already be visible.
	_, open := <-slow.Chan
	for open {
		_, open = <-slow.Chan
	}
	assert.Equal(t, DetachSlowSubscriber, slow.Detached())
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestHub_ProducerNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := New(0)
	defer h.Close()

	slow := h.Subscribe(JoinLive)
	_ = slow // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueDepth*4; i++ {
			h.Publish([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestHub_ReplayJoinSeesBufferedChunks(t *testing.T) {
	h := New(0)
	defer h.Close()

	h.Publish([]byte("before-join-1"))
	h.Publish([]byte("before-join-2"))

	replay := h.Subscribe(JoinReplay)
	assert.Equal(t, []byte("before-join-1"), <-replay.Chan)
	assert.Equal(t, []byte("before-join-2"), <-replay.Chan)
}

func TestHub_LiveJoinSkipsBufferedChunks(t *testing.T) {
	h := New(0)
	defer h.Close()

	h.Publish([]byte("before-join"))

	live := h.Subscribe(JoinLive)
	h.Publish([]byte("after-join"))

	assert.Equal(t, []byte("after-join"), <-live.Chan)
}

func TestHub_UnsubscribeClosesChannelWithoutDetachReason(t *testing.T) {
	h := New(0)
	defer h.Close()

	s := h.Subscribe(JoinLive)
	h.Unsubscribe(s)

	_, open := <-s.Chan
	assert.False(t, open)
	assert.Equal(t, DetachReason(""), s.Detached())
}

func TestHub_CloseDetachesAllSubscribers(t *testing.T) {
	h := New(0)
	s1 := h.Subscribe(JoinLive)
	s2 := h.Subscribe(JoinLive)

	h.Close()

	_, open1 := <-s1.Chan
	_, open2 := <-s2.Chan
	assert.False(t, open1)
	assert.False(t, open2)
	assert.Equal(t, DetachHubClosed, s1.Detached())
	assert.Equal(t, DetachHubClosed, s2.Detached())
}

func TestHub_RingBoundsMemory(t *testing.T) {
	h := New(16) // 16 bytes
	defer h.Close()

	for i := 0; i < 10; i++ {
		h.Publish([]byte("12345678")) // 8 bytes each
	}

	h.mu.Lock()
	size := h.ringSize
	h.mu.Unlock()
	require.LessOrEqual(t, size, 16)
}

func TestHub_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := New(0)
	s := h.Subscribe(JoinLive)
	h.Publish([]byte("x"))
	<-s.Chan
	h.Close()
}

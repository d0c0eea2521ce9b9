package resilience

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatewayd/internal/fanout"
	"gatewayd/internal/session"
	"gatewayd/internal/supervisor"
)

func newTestController(t *testing.T, registry *session.Registry) *Controller {
	t.Helper()
	spawn := func(ctx context.Context, upstreamURL string) (*supervisor.Handle, error) {
		return supervisor.Start(ctx, zerolog.New(io.Discard), "sh", []string{"-c", "echo hello; sleep 2"}, upstreamURL)
	}
	return New(registry, nil, spawn, nil, zerolog.New(io.Discard),
		WithThresholds(3, 2, 1),
		WithBackoff(time.Millisecond, 1.0, 10*time.Millisecond),
		WithResetDwell(50*time.Millisecond),
	)
}

func TestClassify_EscalatesThroughLayersInOrder(t *testing.T) {
	ctl := newTestController(t, nil)
	ls := &ladderState{}

	for i := 0; i < 3; i++ {
		layer := ctl.classify(ls, "")
		assert.Equal(t, Layer1InBandReconnect, layer)
	}
	for i := 0; i < 2; i++ {
		layer := ctl.classify(ls, "")
		assert.Equal(t, Layer2ProcessRestart, layer)
	}
	assert.Equal(t, Layer3SessionRecreate, ctl.classify(ls, ""))
	assert.Equal(t, Layer4Fail, ctl.classify(ls, ""))
}

func TestClassify_DecoderFailureJumpsToLayer2(t *testing.T) {
	ctl := newTestController(t, nil)
	ls := &ladderState{}

	layer := ctl.classify(ls, string(supervisor.DecoderCorruption))
	assert.Equal(t, Layer2ProcessRestart, layer)

	layer = ctl.classify(ls, string(supervisor.Decryption))
	assert.Equal(t, Layer2ProcessRestart, layer)
	assert.Equal(t, 0, ls.layer1Failures)
}

func TestBackoffFor_DoublesWithFactorAndCaps(t *testing.T) {
	ctl := newTestController(t, nil)
	ctl.backoffBase = time.Second
	ctl.backoffFactor = 2.0
	ctl.backoffCap = 5 * time.Second

	ls := &ladderState{layer1Failures: 1}
	assert.Equal(t, 2*time.Second, ctl.backoffFor(ls))

	ls.layer1Failures = 5
	assert.Equal(t, 5*time.Second, ctl.backoffFor(ls), "backoff must not exceed the configured cap")
}

func TestIsHealthy_NilRegistryIsUnhealthy(t *testing.T) {
	ctl := newTestController(t, nil)
	assert.False(t, ctl.IsHealthy("whatever"))
}

func TestIsHealthy_MissingSessionIsUnhealthy(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	assert.False(t, ctl.IsHealthy("no-such-session"))
}

func TestIsHealthy_EndedSessionIsUnhealthy(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	reg.Close(context.Background(), id, "test")
	assert.False(t, ctl.IsHealthy(id))
}

func TestIsHealthy_FalseOnceLayer3Exhausted(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	assert.True(t, ctl.IsHealthy(id))

	ls := ctl.stateFor(id)
	ls.layer3Failures = ctl.n3
	assert.False(t, ctl.IsHealthy(id))
}

func TestHandleRecovery_Layer1RestartsSupervisorAndRecovers(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	hook := recoveryHookController{ctl}
	hub := fanout.New(0)
	s := session.New(id, reg, hub, hook, zerolog.New(io.Discard), 2*time.Second, 30*time.Second, time.Second)

	h, err := supervisor.Start(context.Background(), zerolog.New(io.Discard), "sh", []string{"-c", "echo hello; sleep 2"}, "ignored")
	require.NoError(t, err)
	s.Start(h)

	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.State == session.Active
	}, 3*time.Second, 10*time.Millisecond)

	ctl.HandleRecovery(s, session.EvClassifiedError, string(supervisor.NetworkTimeout))

	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.Counters.URLRenewals >= 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestHandleRecovery_Layer4FailsSessionAndForgetsLadder(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	// No hook: a short stall deadline moves the session to RECOVERING (the
	// only state the ladder's Fail applies in) and the test drives
	// HandleRecovery itself.
	hub := fanout.New(0)
	s := session.New(id, reg, hub, nil, zerolog.New(io.Discard), 2*time.Second, 150*time.Millisecond, time.Second)

	h, err := supervisor.Start(context.Background(), zerolog.New(io.Discard), "sh", []string{"-c", "echo hello; sleep 2"}, "ignored")
	require.NoError(t, err)
	s.Start(h)

	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.State == session.Active
	}, 3*time.Second, 10*time.Millisecond)

	ls := ctl.stateFor(id)
	ls.layer1Failures = ctl.n1
	ls.layer2Failures = ctl.n2
	ls.layer3Failures = ctl.n3

	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.State == session.Recovering
	}, 3*time.Second, 10*time.Millisecond)

	ctl.HandleRecovery(s, session.EvClassifiedError, string(supervisor.NetworkTimeout))

	require.Eventually(t, func() bool {
		_, ok := reg.Get(id)
		return !ok
	}, 3*time.Second, 10*time.Millisecond, "session should have been ended by Fail")

	ctl.mu.Lock()
	_, stillTracked := ctl.state[id]
	ctl.mu.Unlock()
	assert.False(t, stillTracked, "Forget should drop ladder bookkeeping once the session ends")
}

func TestRunPreemptiveRenewal_RenewsWithoutTouchingLadderCounters(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	hook := recoveryHookController{ctl}
	hub := fanout.New(0)
	s := session.New(id, reg, hub, hook, zerolog.New(io.Discard), 2*time.Second, 30*time.Second, time.Second)

	h, err := supervisor.Start(context.Background(), zerolog.New(io.Discard), "sh", []string{"-c", "echo hello; sleep 2"}, "ignored")
	require.NoError(t, err)
	s.Start(h)

	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.State == session.Active
	}, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go ctl.RunPreemptiveRenewal(ctx, s, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.Counters.URLRenewals >= 1
	}, 3*time.Second, 10*time.Millisecond)
	cancel()

	snap, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, session.Active, snap.State, "a preemptive renewal must never leave RECOVERING visible")

	ls := ctl.stateFor(id)
	ctl.mu.Lock()
	layer1, layer2 := ls.layer1Failures, ls.layer2Failures
	ctl.mu.Unlock()
	assert.Zero(t, layer1, "preemptive renewal must not count as a Layer-1 failure")
	assert.Zero(t, layer2, "preemptive renewal must not count as a Layer-2 failure")
}

func TestRunPreemptiveRenewal_ZeroIntervalIsNoop(t *testing.T) {
	reg := session.New(nil)
	ctl := newTestController(t, reg)
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	hub := fanout.New(0)
	s := session.New(id, reg, hub, nil, zerolog.New(io.Discard), 2*time.Second, 30*time.Second, time.Second)

	done := make(chan struct{})
	go func() {
		ctl.RunPreemptiveRenewal(context.Background(), s, 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPreemptiveRenewal with interval <= 0 should return immediately")
	}
}

func TestRecreateSession_NilRecreatorFailsSession(t *testing.T) {
	reg := session.New(nil)
	ctl := New(reg, nil, nil, nil, zerolog.New(io.Discard))
	id, err := reg.Open(context.Background(), "chan-1", "http://upstream/a.ts", session.ClientInfo{}, nil)
	require.NoError(t, err)

	hub := fanout.New(0)
	s := session.New(id, reg, hub, nil, zerolog.New(io.Discard), 2*time.Second, 150*time.Millisecond, time.Second)

	h, err := supervisor.Start(context.Background(), zerolog.New(io.Discard), "sh", []string{"-c", "echo hello; sleep 5"}, "ignored")
	require.NoError(t, err)
	s.Start(h)

	// Layer 3 only runs from RECOVERING; the stall deadline gets us there.
	require.Eventually(t, func() bool {
		snap, ok := reg.Get(id)
		return ok && snap.State == session.Recovering
	}, 3*time.Second, 10*time.Millisecond)

	ctl.recreateSession(s)

	require.Eventually(t, func() bool {
		_, ok := reg.Get(id)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// recoveryHookController adapts *Controller to session.RecoveryHook without
// relying on the package's real wiring, so tests can call HandleRecovery
// directly while still exercising Session's state transitions.
type recoveryHookController struct{ ctl *Controller }

func (h recoveryHookController) HandleRecovery(s *session.Session, cause session.Event, detail string) {
	h.ctl.HandleRecovery(s, cause, detail)
}

// Package resilience implements the Resilience Controller (§4.7): the
// four-layer recovery ladder that turns a Streaming Session's classified
// failures into recovery actions, escalating from in-band reconnect up to
// session recreate and, eventually, giving up.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/internal/metrics"
	"gatewayd/internal/resolver"
	"gatewayd/internal/session"
	"gatewayd/internal/supervisor"
)

// Layer is one rung of the recovery ladder.
type Layer int

const (
	Layer1InBandReconnect Layer = iota + 1
	Layer2ProcessRestart
	Layer3SessionRecreate
	Layer4Fail
)

// clock abstracts time for deterministic tests, generalized from the
// teacher's circuit breaker clock interface.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Spawner starts a fresh Supervisor for upstreamURL. Wiring supplies the
// binary path and arg template; the Controller only knows how to call it.
type Spawner func(ctx context.Context, upstreamURL string) (*supervisor.Handle, error)

// Recreator tears down and reopens a Session while preserving its
// identifiers, for Layer 3. Wiring (the HTTP surface / main) supplies
// this since it alone knows how to re-run the full startup sequence.
type Recreator func(ctx context.Context, sessionID string) error

// decoderFailureKinds escalate straight to Layer 2 regardless of the
// Layer-1 failure counter, per §4.7.
var decoderFailureKinds = map[string]struct{}{
	string(supervisor.DecoderCorruption): {},
	string(supervisor.Decryption):        {},
}

// Option configures a Controller.
type Option func(*Controller)

func WithClock(c clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithThresholds(n1, n2, n3 int) Option {
	return func(ctl *Controller) { ctl.n1, ctl.n2, ctl.n3 = n1, n2, n3 }
}

func WithBackoff(base time.Duration, factor float64, cap time.Duration) Option {
	return func(ctl *Controller) { ctl.backoffBase, ctl.backoffFactor, ctl.backoffCap = base, factor, cap }
}

func WithResetDwell(d time.Duration) Option {
	return func(ctl *Controller) { ctl.resetDwell = d }
}

// Controller implements session.RecoveryHook, driving the ladder for
// every session it is attached to as the hook.
type Controller struct {
	registry  *session.Registry
	resolver  *resolver.Resolver
	spawn     Spawner
	recreate  Recreator
	logger    zerolog.Logger
	clock     clock

	n1, n2, n3 int

	backoffBase   time.Duration
	backoffFactor float64
	backoffCap    time.Duration
	resetDwell    time.Duration

	mu    sync.Mutex
	state map[string]*ladderState
}

type ladderState struct {
	layer1Failures int
	layer2Failures int
	layer3Failures int
	activeSince    time.Time

	// generation increments on every ladder engagement (classify call).
	// resetIfDwelled captures it at schedule time and only clears counters
	// if nothing re-engaged the ladder during the dwell window.
	generation int
}

// New builds a Controller. registry is used only for health probing in
// the Registry's conflict policy (§4.4); resolver and spawn are required
// for the ladder itself. recreate may be nil if the wiring does not
// support Layer 3 (Layer escalates straight to Fail in that case).
func New(registry *session.Registry, res *resolver.Resolver, spawn Spawner, recreate Recreator, logger zerolog.Logger, opts ...Option) *Controller {
	ctl := &Controller{
		registry:      registry,
		resolver:      res,
		spawn:         spawn,
		recreate:      recreate,
		logger:        logger,
		clock:         realClock{},
		n1:            3,
		n2:            2,
		n3:            1,
		backoffBase:   time.Second,
		backoffFactor: 1.3,
		backoffCap:    30 * time.Second,
		resetDwell:    60 * time.Second,
		state:         make(map[string]*ladderState),
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

func (ctl *Controller) stateFor(id string) *ladderState {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ls, ok := ctl.state[id]
	if !ok {
		ls = &ladderState{}
		ctl.state[id] = ls
	}
	return ls
}

// Forget drops a session's ladder bookkeeping once it reaches ENDED.
func (ctl *Controller) Forget(id string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	delete(ctl.state, id)
}

// IsHealthy implements session.HealthProber for the Registry's conflict
// policy: a session is healthy if it is live (not ENDED) and has not
// exhausted Layer 3 of its own ladder.
func (ctl *Controller) IsHealthy(sessionID string) bool {
	if ctl.registry == nil {
		return false
	}
	snap, ok := ctl.registry.Get(sessionID)
	if !ok || snap.State == session.Ended {
		return false
	}
	ls := ctl.stateFor(sessionID)
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ls.layer3Failures < ctl.n3
}

// HandleRecovery implements session.RecoveryHook. It runs in its own
// goroutine (spawned by Session.apply) and drives exactly one escalation
// step before returning; repeated failures call back in on the session's
// next RECOVERING transition.
func (ctl *Controller) HandleRecovery(s *session.Session, cause session.Event, detail string) {
	ls := ctl.stateFor(s.ID)

	layer := ctl.classify(ls, detail)
	backoff := ctl.backoffFor(ls)

	metrics.LadderTransitions.WithLabelValues(layerName(layer), string(cause)).Inc()
	ctl.logger.Info().Str("session_id", s.ID).Int("layer", int(layer)).Str("cause", string(cause)).Str("detail", detail).Msg("resilience ladder engaged")

	time.Sleep(backoff)

	switch layer {
	case Layer1InBandReconnect:
		ctl.restartSupervisor(s, false, "reactive")
	case Layer2ProcessRestart:
		ctl.restartSupervisor(s, true, "reactive")
	case Layer3SessionRecreate:
		ctl.recreateSession(s)
	default:
		ctl.fail(s)
	}
}

// classify picks the ladder layer per §4.7's thresholds, escalating
// straight to Layer 2 for decoder/decryption failures.
func (ctl *Controller) classify(ls *ladderState, detail string) Layer {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	ls.generation++

	if _, decoder := decoderFailureKinds[detail]; decoder {
		ls.layer2Failures++
		return Layer2ProcessRestart
	}

	ls.layer1Failures++
	if ls.layer1Failures <= ctl.n1 {
		return Layer1InBandReconnect
	}

	ls.layer2Failures++
	if ls.layer2Failures <= ctl.n2 {
		return Layer2ProcessRestart
	}

	ls.layer3Failures++
	if ls.layer3Failures <= ctl.n3 {
		return Layer3SessionRecreate
	}

	return Layer4Fail
}

func (ctl *Controller) backoffFor(ls *ladderState) time.Duration {
	ctl.mu.Lock()
	attempt := ls.layer1Failures + ls.layer2Failures + ls.layer3Failures
	ctl.mu.Unlock()

	d := time.Duration(float64(ctl.backoffBase) * pow(ctl.backoffFactor, attempt))
	if d > ctl.backoffCap {
		d = ctl.backoffCap
	}
	return d
}

// layerName gives each Layer a stable metric label.
func layerName(l Layer) string {
	switch l {
	case Layer1InBandReconnect:
		return "layer1_in_band_reconnect"
	case Layer2ProcessRestart:
		return "layer2_process_restart"
	case Layer3SessionRecreate:
		return "layer3_session_recreate"
	default:
		return "layer4_fail"
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// restartSupervisor re-resolves the upstream (bypassing the resolver
// cache for Layer 2 per spec) and attaches a fresh Supervisor, waiting for
// its first byte before calling Session.Recovered. trigger labels the
// url_renewals_total metric ("reactive" for ladder-driven calls,
// "preemptive" for the proactive renewal loop); it never touches
// ladderState, so a preemptive call leaves the fault counters untouched.
func (ctl *Controller) restartSupervisor(s *session.Session, bypassCache bool, trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	current := s.UpstreamURL()
	target := current
	if ctl.resolver != nil {
		if resolved, _, err := ctl.resolver.Resolve(ctx, current, resolver.DefaultQuality, bypassCache); err == nil {
			target = resolved
		}
	}
	s.SetUpstreamURL(target)
	s.Mutate(func(r *session.Record) { r.Counters.URLRenewals++ })
	metrics.URLRenewals.WithLabelValues(trigger).Inc()

	h, err := ctl.spawn(ctx, target)
	if err != nil {
		ctl.logger.Warn().Err(err).Str("session_id", s.ID).Str("trigger", trigger).Msg("resilience: supervisor respawn failed")
		return
	}

	s.AttachSupervisor(h)
	layer := Layer1InBandReconnect
	if bypassCache {
		layer = Layer2ProcessRestart
	}
	metrics.SupervisorRestarts.WithLabelValues(layerName(layer)).Inc()

	select {
	case <-s.ByteSignal():
		s.Recovered()
		ctl.resetIfDwelled(s.ID)
	case <-time.After(10 * time.Second):
		ctl.logger.Warn().Str("session_id", s.ID).Str("trigger", trigger).Msg("resilience: replacement supervisor produced no bytes")
	case <-ctx.Done():
	}
}

// RunPreemptiveRenewal performs a Layer-2 renewal every interval
// regardless of errors, because signed upstream URLs commonly expire
// around 30 min (§4.7 Proactive policies). It bypasses classify/backoff
// entirely, so it never touches the reactive ladder's fault counters and
// the session's state remains ACTIVE throughout (restartSupervisor's
// Recovered() call is a no-op from ACTIVE). It returns when ctx is
// canceled or the session reaches ENDED.
func (ctl *Controller) RunPreemptiveRenewal(ctx context.Context, s *session.Session, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := s.Status()
			if !ok || snap.State == session.Ended {
				return
			}
			ctl.restartSupervisor(s, true, "preemptive")
		}
	}
}

func (ctl *Controller) recreateSession(s *session.Session) {
	if ctl.recreate == nil {
		ctl.fail(s)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ctl.recreate(ctx, s.ID); err != nil {
		ctl.logger.Warn().Err(err).Str("session_id", s.ID).Msg("resilience: session recreate failed")
		ctl.fail(s)
	}
}

func (ctl *Controller) fail(s *session.Session) {
	s.Fail()
	ctl.Forget(s.ID)
}

// resetIfDwelled clears ladder counters once a session has sustained
// ACTIVE for resetDwell, per §4.7 ("Counters are reset on any successful
// ACTIVE dwell of >= 60 s"). It captures the ladder's generation at
// schedule time and skips the reset if the session re-engaged the ladder
// (another classify call) before the dwell elapsed, so a RECOVERING blip
// during the window doesn't get its counters wiped out from under it.
func (ctl *Controller) resetIfDwelled(id string) {
	ctl.mu.Lock()
	ls, ok := ctl.state[id]
	if !ok {
		ctl.mu.Unlock()
		return
	}
	gen := ls.generation
	ctl.mu.Unlock()

	time.AfterFunc(ctl.resetDwell, func() {
		ctl.mu.Lock()
		defer ctl.mu.Unlock()
		if ls, ok := ctl.state[id]; ok && ls.generation == gen {
			ls.layer1Failures = 0
			ls.layer2Failures = 0
			ls.layer3Failures = 0
		}
	})
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatewayd/internal/gwerr"
	"gatewayd/internal/metrics"
)

// ClientInfo is what the HTTP surface knows about the caller opening a
// session: an identity used for the same-client/same-channel conflict
// check (§4.4), and an optional consumer id to register as an alias.
type ClientInfo struct {
	Identity   string // e.g. client IP, or an upstream-supplied device id
	ConsumerID string // optional; "" if the caller supplied none
	Class      ClientClass
}

// HealthProber answers whether an existing session is still healthy, used
// by the conflict policy. The Resilience Controller implements this; the
// Registry depends only on the interface to avoid an import cycle.
type HealthProber interface {
	IsHealthy(sessionID string) bool
}

// auditRetention is how long an ENDED Record stays in the Registry after
// closeLocked before being purged, per §3 invariant 3 ("the record is
// retained for an audit grace period then purged").
const auditRetention = 60 * time.Second

// entry is the Registry's internal bookkeeping for one session: the
// Record plus the set of client identities occupying the channel, used
// for invariant 2 (no consumer-id overlap across sessions of the same
// channel for the same client identity).
type entry struct {
	record     Record
	identities map[string]struct{}
	consumers  map[string]struct{}
}

// Registry is the process-wide session_id -> session mapping plus the
// alias map for consumer ids (§4.4).
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*entry
	aliases   map[string]string // alias -> session id (consumer ids + session id itself)
	byChannel map[string]map[string]string // channel id -> client identity -> session id
	audit     AuditSink
}

// New creates an empty Registry. audit may be nil (a NopAuditSink is
// used).
func New(audit AuditSink) *Registry {
	if audit == nil {
		audit = NopAuditSink{}
	}
	return &Registry{
		sessions:  make(map[string]*entry),
		aliases:   make(map[string]string),
		byChannel: make(map[string]map[string]string),
		audit:     audit,
	}
}

// Open creates a new session in state STARTING, or resolves the conflict
// policy against an existing ACTIVE session for the same client identity
// on the same channel.
func (r *Registry) Open(ctx context.Context, channelID, upstreamURL string, client ClientInfo, prober HealthProber) (string, error) {
	r.mu.Lock()

	if client.Identity != "" {
		if existingID, ok := r.byChannel[channelID][client.Identity]; ok {
			if e, ok := r.sessions[existingID]; ok && e.record.State != Ended {
				healthy := prober != nil && prober.IsHealthy(existingID)
				if healthy {
					r.mu.Unlock()
					return "", gwerr.New(gwerr.SessionConflict, "active session already bound to this client on this channel")
				}
				r.closeLocked(existingID, "conflict_replaced")
			}
		}
	}

	id := uuid.New().String()
	now := time.Now()
	e := &entry{
		record: Record{
			SessionID:      id,
			ChannelID:      channelID,
			UpstreamURL:    upstreamURL,
			State:          Starting,
			ClientClass:    client.Class,
			StartedAt:      now,
			LastActivityAt: now,
		},
		identities: make(map[string]struct{}),
		consumers:  make(map[string]struct{}),
	}
	if client.Identity != "" {
		e.identities[client.Identity] = struct{}{}
		if r.byChannel[channelID] == nil {
			r.byChannel[channelID] = make(map[string]string)
		}
		r.byChannel[channelID][client.Identity] = id
	}
	r.sessions[id] = e
	r.aliases[id] = id
	if client.ConsumerID != "" {
		r.aliases[client.ConsumerID] = id
		e.consumers[client.ConsumerID] = struct{}{}
	}
	r.mu.Unlock()

	metrics.ActiveSessions.WithLabelValues(string(client.Class)).Inc()
	_ = r.audit.WriteAudit(ctx, AuditRow{SessionID: id, ChannelID: channelID, State: Starting, At: now.Unix()})
	return id, nil
}

// Attach registers consumerID as an additional alias for the session
// resolved from idOrAlias.
func (r *Registry) Attach(idOrAlias, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.aliases[idOrAlias]
	if !ok {
		return gwerr.New(gwerr.NotFound, "session not found")
	}
	e := r.sessions[id]
	if existing, ok := r.aliases[consumerID]; ok && existing != id {
		return gwerr.New(gwerr.SessionConflict, "consumer id already aliases a different session")
	}
	r.aliases[consumerID] = id
	e.consumers[consumerID] = struct{}{}
	return nil
}

// Resolve is an O(1) lookup through the alias map.
func (r *Registry) Resolve(idOrAlias string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.aliases[idOrAlias]
	return id, ok
}

// TouchActivity updates last_activity_at; idempotent, monotonically
// non-decreasing per §3 invariant 4.
func (r *Registry) TouchActivity(idOrAlias string, _ ActivityKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.aliases[idOrAlias]
	if !ok {
		return
	}
	e := r.sessions[id]
	now := time.Now()
	if now.After(e.record.LastActivityAt) {
		e.record.LastActivityAt = now
	}
}

// setState transitions the session's record to state, bypassing the FSM
// event table; callers inside this package's Session type own the event
// semantics and call this after an apply succeeds.
func (r *Registry) setState(id string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.record.State = s
	}
}

// Mutate grants a brief, lock-held view of a session's Record for callers
// that need to read-then-conditionally-write (e.g. counters) atomically.
// fn must not retain the pointer past the call.
func (r *Registry) Mutate(id string, fn func(*Record)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	fn(&e.record)
	return true
}

// Close transitions the session to ENDED, removes its aliases, and writes
// an audit row recording why.
func (r *Registry) Close(ctx context.Context, id, reason string) {
	r.mu.Lock()
	channelID, had := r.closeLocked(id, reason)
	r.mu.Unlock()
	if had {
		_ = r.audit.WriteAudit(ctx, AuditRow{SessionID: id, ChannelID: channelID, State: Ended, Reason: reason, At: time.Now().Unix()})
	}
}

// closeLocked marks id ENDED and releases its aliases/channel-identity
// bookkeeping immediately (so a new Open isn't blocked behind a dead
// session), but leaves the Record itself in r.sessions for auditRetention
// so Snapshot can still observe it, per §3 invariant 3. Get resolves
// through the alias map, so it no longer finds the session. Reports
// whether the session existed, plus its channel id for the audit row.
func (r *Registry) closeLocked(id, _reason string) (channelID string, existed bool) {
	e, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	e.record.State = Ended
	channelID = e.record.ChannelID
	metrics.ActiveSessions.WithLabelValues(string(e.record.ClientClass)).Dec()
	for alias, target := range r.aliases {
		if target == id {
			delete(r.aliases, alias)
		}
	}
	for ch, channelEntries := range r.byChannel {
		for clientIdentity, sessID := range channelEntries {
			if sessID == id {
				delete(r.byChannel[ch], clientIdentity)
			}
		}
	}
	time.AfterFunc(auditRetention, func() { r.purge(id) })
	return channelID, true
}

// purge drops id's Record once its audit retention window has elapsed.
func (r *Registry) purge(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Get returns a Snapshot of the session, if present.
func (r *Registry) Get(idOrAlias string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.aliases[idOrAlias]
	if !ok {
		return Snapshot{}, false
	}
	e, ok := r.sessions[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(e), true
}

// Snapshot returns a read-only view of every session in the registry
// (§4.4), including ENDED records still inside their audit retention.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, snapshotOf(e))
	}
	return out
}

func snapshotOf(e *entry) Snapshot {
	consumers := make([]string, 0, len(e.consumers))
	for c := range e.consumers {
		consumers = append(consumers, c)
	}
	return Snapshot{Record: e.record, ConsumerIDs: consumers}
}

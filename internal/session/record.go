package session

import "time"

// ClientClass is the coarse category assigned to an incoming HTTP request;
// drives transcoding and resilience defaults (§4.9 glossary).
type ClientClass string

const (
	ClassTunerServer   ClientClass = "TUNER_SERVER"
	ClassTunerClient   ClientClass = "TUNER_CLIENT_LIVING_ROOM_DEVICE"
	ClassWebBrowser    ClientClass = "WEB_BROWSER"
	ClassExternalPlayer ClientClass = "EXTERNAL_PLAYER"
)

// ActivityKind distinguishes why TouchActivity was called, for
// observability only; it never affects state transitions.
type ActivityKind string

const (
	ActivityByteDelivered ActivityKind = "byte_delivered"
	ActivitySubscribed    ActivityKind = "subscribed"
	ActivityProbe         ActivityKind = "probe"
)

// Counters are monotonically-incrementing session statistics (§3 Session
// invariant 5 requires bytes_forwarded to lead subscriber delivery).
type Counters struct {
	SupervisorRestarts int64
	InBandReconnects   int64
	URLRenewals        int64
	BytesForwarded     int64
	ConsecutiveFailures int64
}

// Record is the canonical, Registry-owned state of one Streaming Session.
// It is never duplicated: aliases are map entries pointing back at a
// Record's SessionID, not copies of the Record itself.
type Record struct {
	SessionID   string
	ChannelID   string
	UpstreamURL string
	State       State
	ClientClass ClientClass

	StartedAt             time.Time
	LastActivityAt        time.Time
	LastSupervisorStartAt time.Time
	LastUpstreamRenewalAt time.Time

	Counters Counters
}

// Snapshot is a read-only copy of a Record for observability (§4.4
// Snapshot operation), safe to hand to callers outside the registry lock.
type Snapshot struct {
	Record
	ConsumerIDs []string
}

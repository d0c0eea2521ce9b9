// Package metrics registers the gateway's prometheus collectors. Every
// metric here is wired to a concrete streaming-plane event; there is no
// speculative instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveSessions counts currently open sessions by client class.
var ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "active_sessions",
	Help:      "Number of open streaming sessions, by client class.",
}, []string{"client_class"})

// ActivePreviews counts currently running preview transcodes.
var ActivePreviews = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "gateway",
	Name:      "active_previews",
	Help:      "Number of in-flight preview transcodes.",
})

// SupervisorRestarts counts subprocess restarts issued by the resilience
// ladder, by layer.
var SupervisorRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "supervisor_restarts_total",
	Help:      "Subprocess restarts issued by the resilience ladder, by layer.",
}, []string{"layer"})

// LadderTransitions counts resilience ladder state transitions.
var LadderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "ladder_transitions_total",
	Help:      "Resilience ladder transitions, by layer and reason.",
}, []string{"layer", "reason"})

// URLRenewals counts upstream URL renewals, by trigger.
var URLRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "url_renewals_total",
	Help:      "Upstream URL renewals, by trigger (preemptive, reactive).",
}, []string{"trigger"})

// BytesForwarded counts payload bytes relayed to subscribers, by session kind.
var BytesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "bytes_forwarded_total",
	Help:      "Payload bytes forwarded to subscribers, by session kind.",
}, []string{"session_kind"})

// SubscribersDetached counts fan-out subscriber detachments, by reason.
var SubscribersDetached = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "subscribers_detached_total",
	Help:      "Fan-out subscriber detachments, by reason.",
}, []string{"reason"})

// SessionEnded counts session terminations, by reason.
var SessionEnded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "session_ended_total",
	Help:      "Session terminations, by reason.",
}, []string{"reason"})

// SegmentCacheHits counts HLS segment URL cache hits.
var SegmentCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "segment_cache_hits_total",
	Help:      "HLS segment URL cache hits.",
})

// SegmentCacheMisses counts HLS segment URL cache misses.
var SegmentCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "segment_cache_misses_total",
	Help:      "HLS segment URL cache misses.",
})

// ClassifiedErrors counts subprocess stderr lines classified into a known
// error kind.
var ClassifiedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gateway",
	Name:      "classified_errors_total",
	Help:      "Subprocess stderr lines classified into a known error kind.",
}, []string{"kind"})

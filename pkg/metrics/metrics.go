package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Protocol metrics
var (
	ProtocolEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfilter_protocol_events_total",
			Help: "Total number of protocol lines handled, by verb and phase",
		},
		[]string{"verb", "phase"},
	)

	ProtocolIgnoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentfilter_protocol_ignored_total",
			Help: "Total number of protocol lines ignored because the verb, phase or shape was not recognised",
		},
	)
)

// Verdict metrics
var (
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfilter_verdicts_total",
			Help: "Total number of commit decisions",
		},
		[]string{"verdict"},
	)

	MatcherHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfilter_matcher_hits_total",
			Help: "Total number of blacklist matcher hits",
		},
		[]string{"kind", "field"},
	)

	MalformedMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "contentfilter_malformed_messages_total",
			Help: "Total number of committed messages whose header could not be parsed",
		},
	)

	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contentfilter_commit_duration_seconds",
			Help:    "Time spent evaluating a committed message",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "contentfilter_message_size_bytes",
			Help:    "Size of buffered messages at commit time",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// Session buffer metrics
var (
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contentfilter_sessions_open",
			Help: "Current number of sessions holding a transaction buffer",
		},
	)

	BufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "contentfilter_buffered_bytes",
			Help: "Current number of bytes held across all transaction buffers",
		},
	)

	SessionLimitEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentfilter_session_limit_events_total",
			Help: "Total number of times a buffer limit was hit",
		},
		[]string{"limit"},
	)
)

// Blacklist metrics
var (
	BlacklistMatchers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "contentfilter_blacklist_matchers",
			Help: "Number of loaded blacklist matchers",
		},
		[]string{"kind"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crowdsec"

var (
	// Polls counts stream elements by result, "success" or "error".
	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "polls_total",
		Help:      "Number of decisions stream polls, by result.",
	}, []string{"result"})

	// Decisions counts decisions received, kind is "new" or "deleted".
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "decisions_total",
		Help:      "Number of decisions received from the stream, by kind.",
	}, []string{"kind"})

	ActiveDecisions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "active_decisions",
		Help:      "Number of decisions currently held in the local cache.",
	})

	// RequestDuration labels with the HTTP status code, or "error" when no response came back.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "lapi",
		Name:      "request_duration_seconds",
		Help:      "Latency of decisions stream requests to LAPI.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"code"})
)

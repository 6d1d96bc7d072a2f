// Package raftmetrics exposes the Raft engine's state as Prometheus
// collectors, in the style of the teacher's pkg/metrics package.
package raftmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Term is the current_term of this server (spec.md §3).
	Term = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_current_term",
			Help: "Current Raft term of this server",
		},
	)

	// IsLeader is 1 when this server believes itself to be leader.
	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_is_leader",
			Help: "Whether this server is the current Raft leader (1 = leader, 0 = not)",
		},
	)

	CommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_commit_index",
			Help: "Highest log index known to be committed",
		},
	)

	LastApplied = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_last_applied",
			Help: "Highest log index applied to the state machine",
		},
	)

	LogEnd = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_log_end",
			Help: "Exclusive upper bound of the in-memory log (next index to assign)",
		},
	)

	DurableSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_durable_sequence",
			Help: "Highest fsync sequence number published as durable by the fsync worker",
		},
	)

	RequestedSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_requested_sequence",
			Help: "Highest fsync sequence number requested by the driver",
		},
	)

	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_peers_total",
			Help: "Number of configured peers in the current server set",
		},
	)

	AppendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raft_append_latency_seconds",
			Help:    "Latency from command_execute submission to commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	ElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_elections_total",
			Help: "Number of times this server became a candidate",
		},
	)

	SnapshotInstallsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "raft_snapshot_installs_total",
			Help: "Number of InstallSnapshot sequences this server has completed as a follower",
		},
	)

	UnsnapshottedLogBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "raft_unsnapshotted_log_bytes",
			Help: "Approximate size of log entries not yet covered by a snapshot",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Term,
		IsLeader,
		CommitIndex,
		LastApplied,
		LogEnd,
		DurableSequence,
		RequestedSequence,
		PeersTotal,
		AppendLatency,
		ElectionsTotal,
		SnapshotInstallsTotal,
		UnsnapshottedLogBytes,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations, mirroring the teacher's
// pkg/metrics.Timer.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Package metric provides Prometheus metrics for vmstate.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vmstate"

// Registry holds every vmstate metric on a private prometheus registry.
//
// All recorder methods are safe to call on a nil *Registry, so components
// can take an optional registry without branching.
type Registry struct {
	reg *prometheus.Registry

	Transactions       *prometheus.CounterVec
	StoreVersion       prometheus.Gauge
	SnapshotsCaptured  prometheus.Counter
	SnapshotsPruned    prometheus.Counter
	CheckpointsCreated prometheus.Counter
	CheckpointsEvicted prometheus.Counter
	CheckpointsApplied *prometheus.CounterVec
	Rollbacks          *prometheus.CounterVec
	Recoveries         *prometheus.CounterVec
	MerkleBuild        prometheus.Histogram
}

// NewRegistry creates a registry with all vmstate metrics plus the Go
// runtime collector registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "transactions_total",
			Help:      "Write transactions by result.",
		}, []string{"result"}),
		StoreVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "version",
			Help:      "Latest committed store version.",
		}),
		SnapshotsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "captured_total",
			Help:      "Snapshots captured.",
		}),
		SnapshotsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "pruned_total",
			Help:      "Snapshots removed by retention cleanup.",
		}),
		CheckpointsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "created_total",
			Help:      "Checkpoints created.",
		}),
		CheckpointsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "evicted_total",
			Help:      "Checkpoints evicted over the retention limit.",
		}),
		CheckpointsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "applied_total",
			Help:      "Checkpoint applications by result.",
		}, []string{"result"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollback",
			Name:      "total",
			Help:      "Rollbacks by trigger and result.",
		}, []string{"trigger", "result"}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "total",
			Help:      "Recovery runs by status.",
		}, []string{"status"}),
		MerkleBuild: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merkle",
			Name:      "build_seconds",
			Help:      "Time to build an integrity tree.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}

	r.reg.MustRegister(
		r.Transactions,
		r.StoreVersion,
		r.SnapshotsCaptured,
		r.SnapshotsPruned,
		r.CheckpointsCreated,
		r.CheckpointsEvicted,
		r.CheckpointsApplied,
		r.Rollbacks,
		r.Recoveries,
		r.MerkleBuild,
		collectors.NewGoCollector(),
	)
	return r
}

// Register adds an extra collector, such as a StoreCollector.
func (r *Registry) Register(c prometheus.Collector) error {
	if r == nil {
		return nil
	}
	return r.reg.Register(c)
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns the HTTP handler serving the registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveTransaction records a write transaction outcome.
func (r *Registry) ObserveTransaction(version uint64, err error) {
	if r == nil {
		return
	}
	r.Transactions.WithLabelValues(result(err)).Inc()
	if err == nil {
		r.StoreVersion.Set(float64(version))
	}
}

// SnapshotCaptured records a capture.
func (r *Registry) SnapshotCaptured() {
	if r == nil {
		return
	}
	r.SnapshotsCaptured.Inc()
}

// SnapshotPruned records n snapshots removed by cleanup.
func (r *Registry) SnapshotPruned(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.SnapshotsPruned.Add(float64(n))
}

// CheckpointCreated records a new checkpoint.
func (r *Registry) CheckpointCreated() {
	if r == nil {
		return
	}
	r.CheckpointsCreated.Inc()
}

// CheckpointEvicted records one retention eviction.
func (r *Registry) CheckpointEvicted() {
	if r == nil {
		return
	}
	r.CheckpointsEvicted.Inc()
}

// CheckpointApplied records an apply callback outcome.
func (r *Registry) CheckpointApplied(err error) {
	if r == nil {
		return
	}
	r.CheckpointsApplied.WithLabelValues(result(err)).Inc()
}

// RollbackDone records a rollback by trigger kind.
func (r *Registry) RollbackDone(trigger string, err error) {
	if r == nil {
		return
	}
	r.Rollbacks.WithLabelValues(trigger, result(err)).Inc()
}

// RecoveryDone records a recovery run by status.
func (r *Registry) RecoveryDone(status string) {
	if r == nil {
		return
	}
	r.Recoveries.WithLabelValues(status).Inc()
}

// MerkleBuilt records the time since start as a tree build duration.
func (r *Registry) MerkleBuilt(start time.Time) {
	if r == nil {
		return
	}
	r.MerkleBuild.Observe(time.Since(start).Seconds())
}

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dreamware/blockfs/internal/actions"
)

// Metrics holds the coordinator's Prometheus instruments.
type Metrics struct {
	Heartbeats         prometheus.Counter
	HeartbeatDuration  prometheus.Histogram
	DeletesIssued      prometheus.Counter
	ReplicationsIssued prometheus.Counter
	Finalizes          prometheus.Counter
	Evictions          prometheus.Counter
	ExpiredActions     *prometheus.CounterVec // labels: bucket

	// Gauges refreshed after every mutation of the action buffer.
	Actions          *prometheus.GaugeVec // labels: bucket
	ReplicationQueue prometheus.Gauge

	// Gauges refreshed by the health monitor.
	Nodes *prometheus.GaugeVec // labels: status
}

// NewMetrics creates the coordinator metrics and registers them with reg.
// A nil reg yields working but unregistered instruments, which is what
// most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Heartbeats: f.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_coordinator_heartbeats_total",
			Help: "Heartbeats processed",
		}),
		HeartbeatDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "blockfs_coordinator_heartbeat_duration_seconds",
			Help:    "Time spent reconciling one heartbeat",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		DeletesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_coordinator_deletes_issued_total",
			Help: "Delete instructions sent to storage nodes",
		}),
		ReplicationsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_coordinator_replications_issued_total",
			Help: "Replicate instructions sent to storage nodes",
		}),
		Finalizes: f.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_coordinator_finalizes_total",
			Help: "Block locations committed by finalize",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Name: "blockfs_coordinator_node_evictions_total",
			Help: "Storage nodes evicted after missing heartbeats",
		}),
		ExpiredActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "blockfs_coordinator_expired_actions_total",
			Help: "Outstanding actions dropped after the action timeout",
		}, []string{"bucket"}),
		Actions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blockfs_coordinator_actions",
			Help: "Outstanding actions per bucket",
		}, []string{"bucket"}),
		ReplicationQueue: f.NewGauge(prometheus.GaugeOpts{
			Name: "blockfs_coordinator_replication_queue_length",
			Help: "Blocks waiting for a replication target",
		}),
		Nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blockfs_coordinator_nodes",
			Help: "Registered storage nodes by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) observeBuffer(b *actions.Buffer) {
	for _, bucket := range actions.Buckets() {
		m.Actions.WithLabelValues(bucket.String()).Set(float64(b.Len(bucket)))
	}
	m.ReplicationQueue.Set(float64(b.QueueLen()))
}

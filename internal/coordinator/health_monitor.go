package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/blockfs/internal/cluster"
)

// LivenessSource is the part of the node directory the health monitor needs.
// *cluster.Registry implements it.
type LivenessSource interface {
	Stale(cutoff time.Time) []string
	MarkDead(nodeID string, cutoff time.Time) bool
	Counts() (registered, alive int)
}

// HealthMonitor declares storage nodes dead when they stop heartbeating.
// A node is dead once its last heartbeat is older than deadAfter. Each
// live→dead transition fires the onDead callback exactly once, which the
// coordinator wires to Engine.EvictNode.
//
// Every tick also invokes the onTick callback (wired to Engine.Sweep) so
// expired actions are collected on the same schedule.
//
// Thread-safe: Start runs the loop in the caller's goroutine; Stop may be
// called from any goroutine.
type HealthMonitor struct {
	nodes   LivenessSource
	metrics *Metrics
	logger  zerolog.Logger
	now     func() time.Time

	onDead func(nodeID string)
	onTick func(now time.Time)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	interval  time.Duration
	deadAfter time.Duration
}

// NewHealthMonitor creates a monitor that checks nodes every interval and
// declares a node dead after deadAfter without a heartbeat.
//
// Parameters:
//   - nodes: Node directory to scan (usually the cluster.Registry)
//   - interval: How often to scan (the heartbeat interval works well)
//   - deadAfter: Heartbeat silence after which a node is dead
//   - metrics: Instruments to update; nil creates unregistered ones
//   - logger: Destination for liveness transitions
//
// Example:
//
//	monitor := NewHealthMonitor(registry, 3*time.Second, 9*time.Second, metrics, logger)
//	monitor.SetOnDead(engine.EvictNode)
//	monitor.SetOnTick(engine.Sweep)
//	go monitor.Start(ctx)
func NewHealthMonitor(nodes LivenessSource, interval, deadAfter time.Duration, metrics *Metrics, logger zerolog.Logger) *HealthMonitor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		nodes:     nodes,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		interval:  interval,
		deadAfter: deadAfter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetOnDead sets the callback invoked once per node that transitions to dead.
// It must be set before Start.
func (h *HealthMonitor) SetOnDead(callback func(nodeID string)) {
	h.onDead = callback
}

// SetOnTick sets the callback invoked after every scan with the scan time.
// It must be set before Start.
func (h *HealthMonitor) SetOnTick(callback func(now time.Time)) {
	h.onTick = callback
}

// SetClock replaces the monitor's time source. Intended for tests.
func (h *HealthMonitor) SetClock(now func() time.Time) {
	h.now = now
}

// Start runs the monitoring loop in the current goroutine until ctx or the
// monitor itself is canceled. A scan is performed immediately.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info().
		Dur("interval", h.interval).
		Dur("dead_after", h.deadAfter).
		Msg("Health monitor started")

	h.Check()

	for {
		select {
		case <-ticker.C:
			h.Check()
		case <-ctx.Done():
			h.logger.Debug().Msg("Health monitor stopping: context canceled")
			return
		case <-h.ctx.Done():
			h.logger.Debug().Msg("Health monitor stopping: stopped")
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
	h.logger.Info().Msg("Health monitor stopped")
}

// Check performs one scan: stale live nodes are marked dead and handed to
// the onDead callback, node gauges are refreshed, and onTick runs. It
// returns the ids of the nodes that transitioned in this scan.
func (h *HealthMonitor) Check() []string {
	now := h.now()

	var died []string
	cutoff := now.Add(-h.deadAfter)
	for _, id := range h.nodes.Stale(cutoff) {
		if !h.nodes.MarkDead(id, cutoff) {
			continue
		}
		h.logger.Warn().Str("node", id).Dur("silence", h.deadAfter).Msg("Node missed heartbeats, marking dead")
		died = append(died, id)
		if h.onDead != nil {
			h.onDead(id)
		}
	}

	registered, alive := h.nodes.Counts()
	h.metrics.Nodes.WithLabelValues(string(cluster.StatusAlive)).Set(float64(alive))
	h.metrics.Nodes.WithLabelValues(string(cluster.StatusDead)).Set(float64(registered - alive))

	if h.onTick != nil {
		h.onTick(now)
	}
	return died
}

// Package pmetrics implements a per-stage metrics recorder: atomic counters
// and gauges, observed from the queue, retry controller, worker pool and
// execution strategy, snapshotted on demand and pushed to a pluggable Sink
// on a periodic interval, mirrored into OpenTelemetry instruments so the
// same numbers are visible through the usual metrics pipeline.
package pmetrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Snapshot is an immutable point-in-time read of a stage's metrics.
type Snapshot struct {
	StageID   string
	Timestamp time.Time

	Enqueued      uint64
	Processed     uint64
	Succeeded     uint64
	Failed        uint64
	DroppedOldest uint64
	DroppedNewest uint64
	Skipped       uint64 // additive: items dropped by the retry controller's SkipItem decision

	RetryEvents          uint64
	ItemsWithRetry        uint64
	MaxItemRetryAttempts  uint32

	CurrentQueueDepth     int64
	CurrentWorkersBusy    int64
	MaxQueueDepthObserved int64
}

// Sink receives per-stage snapshots, e.g. for export to a time-series
// backend or a demo run history store.
type Sink interface {
	Observe(snapshot Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Snapshot)

func (f SinkFunc) Observe(s Snapshot) { f(s) }

// Recorder accumulates one stage run's counters and gauges. It records into
// both its own atomics (for cheap, allocation-free Snapshot reads) and, when
// a meter is supplied, into otel instruments so the numbers are also visible
// through the platform's usual metrics pipeline.
type Recorder struct {
	stageID string

	enqueued, processed, succeeded, failed         atomic.Uint64
	droppedOldest, droppedNewest, skipped          atomic.Uint64
	retryEvents, itemsWithRetry                    atomic.Uint64
	maxItemRetryAttempts                           atomic.Uint32
	currentQueueDepth, maxQueueDepthObserved        atomic.Int64
	currentWorkersBusy                              atomic.Int64

	inst instruments // zero value is fine: all otel calls become no-ops via nil checks
}

type instruments struct {
	enqueued      metric.Int64Counter
	processed     metric.Int64Counter
	succeeded     metric.Int64Counter
	failed        metric.Int64Counter
	droppedOldest metric.Int64Counter
	droppedNewest metric.Int64Counter
	skipped       metric.Int64Counter
	retryEvents   metric.Int64Counter
	itemsWithRetry metric.Int64Counter
	queueDepth    metric.Int64Gauge
	workersBusy   metric.Int64Gauge
}

// New constructs a Recorder for stageID. meter may be nil, in which case
// otel instruments are skipped and only the in-process atomics are kept
// (useful for unit tests that don't want a MeterProvider).
func New(stageID string, meter metric.Meter) *Recorder {
	r := &Recorder{stageID: stageID}
	if meter == nil {
		return r
	}
	r.inst.enqueued, _ = meter.Int64Counter("pipelinecore_stage_enqueued_total")
	r.inst.processed, _ = meter.Int64Counter("pipelinecore_stage_processed_total")
	r.inst.succeeded, _ = meter.Int64Counter("pipelinecore_stage_succeeded_total")
	r.inst.failed, _ = meter.Int64Counter("pipelinecore_stage_failed_total")
	r.inst.droppedOldest, _ = meter.Int64Counter("pipelinecore_stage_dropped_oldest_total")
	r.inst.droppedNewest, _ = meter.Int64Counter("pipelinecore_stage_dropped_newest_total")
	r.inst.skipped, _ = meter.Int64Counter("pipelinecore_stage_skipped_total")
	r.inst.retryEvents, _ = meter.Int64Counter("pipelinecore_stage_retry_events_total")
	r.inst.itemsWithRetry, _ = meter.Int64Counter("pipelinecore_stage_items_with_retry_total")
	r.inst.queueDepth, _ = meter.Int64Gauge("pipelinecore_stage_queue_depth")
	r.inst.workersBusy, _ = meter.Int64Gauge("pipelinecore_stage_workers_busy")
	return r
}

func (r *Recorder) attr() metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stage_id", r.stageID))
}

func (r *Recorder) Enqueued() {
	r.enqueued.Add(1)
	if r.inst.enqueued != nil {
		r.inst.enqueued.Add(context.Background(), 1, r.attr())
	}
}

func (r *Recorder) Processed() {
	r.processed.Add(1)
	if r.inst.processed != nil {
		r.inst.processed.Add(context.Background(), 1, r.attr())
	}
}

func (r *Recorder) Succeeded() {
	r.succeeded.Add(1)
	if r.inst.succeeded != nil {
		r.inst.succeeded.Add(context.Background(), 1, r.attr())
	}
}

func (r *Recorder) Failed() {
	r.failed.Add(1)
	if r.inst.failed != nil {
		r.inst.failed.Add(context.Background(), 1, r.attr())
	}
}

func (r *Recorder) DroppedOldest() {
	r.droppedOldest.Add(1)
	if r.inst.droppedOldest != nil {
		r.inst.droppedOldest.Add(context.Background(), 1, r.attr())
	}
}

func (r *Recorder) DroppedNewest() {
	r.droppedNewest.Add(1)
	if r.inst.droppedNewest != nil {
		r.inst.droppedNewest.Add(context.Background(), 1, r.attr())
	}
}

func (r *Recorder) Skipped() {
	r.skipped.Add(1)
	if r.inst.skipped != nil {
		r.inst.skipped.Add(context.Background(), 1, r.attr())
	}
}

// RetryEvent records one retry attempt for an item. firstRetry should be
// true only the first time a given item is retried (attempts == 1 at the
// point Retry was decided), bumping ItemsWithRetry exactly once per item.
func (r *Recorder) RetryEvent(attemptsAfter uint32, firstRetry bool) {
	r.retryEvents.Add(1)
	if firstRetry {
		r.itemsWithRetry.Add(1)
	}
	for {
		prev := r.maxItemRetryAttempts.Load()
		if attemptsAfter <= prev || r.maxItemRetryAttempts.CompareAndSwap(prev, attemptsAfter) {
			break
		}
	}
	if r.inst.retryEvents != nil {
		r.inst.retryEvents.Add(context.Background(), 1, r.attr())
	}
	if firstRetry && r.inst.itemsWithRetry != nil {
		r.inst.itemsWithRetry.Add(context.Background(), 1, r.attr())
	}
}

// ObserveQueueDepth records the queue's instantaneous depth, updating the
// running max. Called by the producer/worker right after every mutation so
// the gauge stays accurate at every sample point.
func (r *Recorder) ObserveQueueDepth(depth int) {
	d := int64(depth)
	r.currentQueueDepth.Store(d)
	for {
		prev := r.maxQueueDepthObserved.Load()
		if d <= prev || r.maxQueueDepthObserved.CompareAndSwap(prev, d) {
			break
		}
	}
	if r.inst.queueDepth != nil {
		r.inst.queueDepth.Record(context.Background(), d, r.attr())
	}
}

// WorkersBusy adjusts the current-workers-busy gauge by delta (+1 on start
// of execute, -1 on finish).
func (r *Recorder) WorkersBusy(delta int64) {
	v := r.currentWorkersBusy.Add(delta)
	if r.inst.workersBusy != nil {
		r.inst.workersBusy.Record(context.Background(), v, r.attr())
	}
}

// Snapshot returns an immutable read of all counters/gauges.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		StageID:               r.stageID,
		Timestamp:             time.Now(),
		Enqueued:              r.enqueued.Load(),
		Processed:             r.processed.Load(),
		Succeeded:             r.succeeded.Load(),
		Failed:                r.failed.Load(),
		DroppedOldest:         r.droppedOldest.Load(),
		DroppedNewest:         r.droppedNewest.Load(),
		Skipped:               r.skipped.Load(),
		RetryEvents:           r.retryEvents.Load(),
		ItemsWithRetry:        r.itemsWithRetry.Load(),
		MaxItemRetryAttempts:  r.maxItemRetryAttempts.Load(),
		CurrentQueueDepth:     r.currentQueueDepth.Load(),
		CurrentWorkersBusy:    r.currentWorkersBusy.Load(),
		MaxQueueDepthObserved: r.maxQueueDepthObserved.Load(),
	}
}

// StartTicker runs until ctx is done, pushing a Snapshot to sink every
// interval. It only performs periodic pushes; call FinalFlush separately
// once the stage finishes so the last observation isn't lost between ticks.
func (r *Recorder) StartTicker(ctx context.Context, interval time.Duration, sink Sink) {
	if sink == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sink.Observe(r.Snapshot())
			}
		}
	}()
}

// FinalFlush pushes one last Snapshot to sink, guaranteeing the stage's
// outcome always carries an up-to-date metrics view before Terminated.
func (r *Recorder) FinalFlush(sink Sink) Snapshot {
	snap := r.Snapshot()
	if sink != nil {
		sink.Observe(snap)
	}
	return snap
}

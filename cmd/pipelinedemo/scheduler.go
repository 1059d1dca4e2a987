package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/pipelinecore/internal/natsbridge"
	"github.com/swarmguard/pipelinecore/pmetrics"
)

// Scheduler drives demo pipeline runs on a cron schedule and in response to
// NATS-delivered trigger events, persisting each run's outcome.
type Scheduler struct {
	cron  *cron.Cron
	store *RunStore
	nc    *nats.Conn
	meter metric.Meter

	runsTriggered metric.Int64Counter
	runsFailed    metric.Int64Counter

	mu      sync.Mutex
	running int
}

// NewScheduler constructs a Scheduler. nc may be nil, in which case
// event-driven triggers are simply not registered.
func NewScheduler(store *RunStore, nc *nats.Conn, meter metric.Meter) *Scheduler {
	runsTriggered, _ := meter.Int64Counter("pipelinecore_demo_runs_triggered_total")
	runsFailed, _ := meter.Int64Counter("pipelinecore_demo_runs_failed_total")
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds()),
		store:         store,
		nc:            nc,
		meter:         meter,
		runsTriggered: runsTriggered,
		runsFailed:    runsFailed,
	}
}

// Start registers the periodic schedule and NATS subscription, then starts
// the cron loop.
func (s *Scheduler) Start(ctx context.Context, cronExpr, subject string, itemsPerRun int) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		s.trigger(context.Background(), "cron", itemsPerRun)
	})
	if err != nil {
		return err
	}

	if s.nc != nil {
		_, err = natsbridge.Subscribe(s.nc, subject, func(ctx context.Context, msg *nats.Msg) {
			s.trigger(ctx, "nats:"+subject, itemsPerRun)
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "cron", cronExpr, "subject", subject)
	return nil
}

// Stop gracefully drains the cron scheduler, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		slog.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) trigger(ctx context.Context, trigger string, itemsPerRun int) {
	s.mu.Lock()
	s.running++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
	}()

	s.runsTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))

	start := time.Now()
	runID := newRunID(start)

	sink := pmetrics.SinkFunc(func(snap pmetrics.Snapshot) {
		slog.Debug("stage metrics tick",
			"run_id", runID,
			"queue_depth", snap.CurrentQueueDepth,
			"processed", snap.Processed,
			"failed", snap.Failed,
		)
	})

	result := runPipeline(ctx, itemsPerRun, s.meter, sink)

	rec := RunRecord{
		RunID:     runID,
		StartedAt: start,
		EndedAt:   time.Now(),
		Outcome:   outcomeLabel(result.outcome),
		Metrics:   result.metrics,
	}
	if result.err != nil {
		rec.Err = result.err.Error()
		s.runsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	}

	if err := s.store.Put(rec); err != nil {
		slog.Error("failed to persist run record", "run_id", runID, "error", err)
	}

	slog.Info("pipeline run completed",
		"run_id", runID,
		"trigger", trigger,
		"outcome", rec.Outcome,
		"outputs", result.outputs,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if s.nc != nil {
		if err := natsbridge.Publish(ctx, s.nc, "pipelinecore.run.completed", []byte(runID)); err != nil {
			slog.Warn("failed to publish run completion", "error", err)
		}
	}
}

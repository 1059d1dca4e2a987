package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/pipelinecore/pcancel"
	"github.com/swarmguard/pipelinecore/pmetrics"
	"github.com/swarmguard/pipelinecore/ratelimit"
	"github.com/swarmguard/pipelinecore/stage"
	"github.com/swarmguard/pipelinecore/strategy"
)

// record is the demo's item type: a synthetic unit of work flowing through
// the fetch-transform-persist shape a real network-bound stage would have.
type record struct {
	ID      int
	Payload string
}

// unreliableFetch simulates a network call that fails roughly a third of
// the time, to exercise the retry controller and metrics. limiter caps how
// many fetches start per second, standing in for the upstream's own rate
// limit the way a real network-bound stage would have to respect one.
type unreliableFetch struct {
	rng     *rand.Rand
	limiter *ratelimit.Limiter
}

func (u *unreliableFetch) Process(ctx context.Context, item record) (string, error) {
	if err := u.limiter.Wait(ctx, 1); err != nil {
		return "", err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Duration(5+u.rng.Intn(15)) * time.Millisecond):
	}
	if u.rng.Intn(3) == 0 {
		return "", fmt.Errorf("record %d: upstream timeout", item.ID)
	}
	return fmt.Sprintf("%s:%d", item.Payload, item.ID), nil
}

// errorHandler retries transient failures up to the stage's cap, then gives
// up on that one item without failing the rest of the run.
func errorHandler(ctx context.Context, stageID string, item record, err error, attempts uint32) stage.Decision {
	slog.Warn("item failed", "stage", stageID, "item_id", item.ID, "attempts", attempts, "error", err)
	if attempts < 3 {
		return stage.DecisionRetry
	}
	return stage.DecisionSkipItem
}

// runResult summarizes one pipeline run for persistence and logging.
type runResult struct {
	outcome strategy.State
	err     error
	metrics pmetrics.Snapshot
	outputs int
}

// runPipeline drives a single fetch stage sized by the network-bound preset
// over n synthetic items and waits for it to terminate.
func runPipeline(ctx context.Context, n int, meter metric.Meter, sink pmetrics.Sink) runResult {
	opts := stage.ResolvePreset(stage.WorkloadNetworkBound, 4)
	opts.MetricsInterval = 2 * time.Second

	limiter := ratelimit.New(20, 40, meter)
	strat := strategy.New[record, string](strategy.Config[record, string]{
		StageID:      "demo-fetch",
		Options:      opts,
		RetryOptions: stage.RetryOptions{MaxItemRetries: 2},
		ErrorHandler: errorHandler,
		Transform:    &unreliableFetch{rng: rand.New(rand.NewSource(time.Now().UnixNano())), limiter: limiter},
		Meter:        meter,
		MetricsSink:  sink,
	})

	token := pcancel.New(ctx)
	input := make(chan record)
	out, outcomes := strat.Execute(token, input)

	go func() {
		defer close(input)
		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case input <- record{ID: i, Payload: "payload"}:
			}
		}
	}()

	outputCount := 0
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			if _, ok := out.Recv(ctx); !ok {
				return
			}
			outputCount++
		}
	}()
	<-drained

	var final runResult
	final.outcome = strategy.StateTerminated
	for o := range outcomes {
		final.metrics = o.Metrics
		if o.State == strategy.StateFaulted || o.State == strategy.StateCancelled {
			final.outcome = o.State
			final.err = o.Err
		}
	}
	final.outputs = outputCount
	return final
}

func outcomeLabel(s strategy.State) string {
	switch s {
	case strategy.StateFaulted:
		return "faulted"
	case strategy.StateCancelled:
		return "cancelled"
	default:
		return "terminated"
	}
}

// Package worker implements the fixed-size pool of goroutines that drain a
// stage's bounded input queue, run each item through its transform, resolve
// recoverable failures through a retry controller on the same goroutine
// (never re-enqueuing a retried item), and hand the tagged outcome to
// whatever consumes WorkerResult values next (ordinarily a reorder buffer).
package worker

import (
	"context"

	"github.com/swarmguard/pipelinecore/pmetrics"
	"github.com/swarmguard/pipelinecore/queue"
	"github.com/swarmguard/pipelinecore/retry"
	"github.com/swarmguard/pipelinecore/stage"
)

// Emit receives one worker's outcome for a dequeued entry. Implementations
// must not block indefinitely; a reorder buffer's Submit is the usual Emit.
type Emit[OutT any] func(ctx context.Context, result stage.WorkerResult[OutT]) error

// OnFatal is invoked each time a worker produces a ResultFailure with a
// non-zero FatalKind. Only the first call across all workers in a pool
// matters; callers typically use it to drive a cancellation token.
type OnFatal func(kind stage.FatalKind, cause error)

// Pool runs a fixed number of worker goroutines against a shared input
// queue, feeding a shared retry controller and metrics recorder.
type Pool[InT, OutT any] struct {
	stageID   string
	input     *queue.Queue[stage.QueueEntry[InT]]
	transform stage.Transform[InT, OutT]
	deferred  stage.DeferredTransform[InT, OutT]
	retryCtl  *retry.Controller[InT]
	recorder  *pmetrics.Recorder
	emit      Emit[OutT]
	onFatal   OnFatal
	degree    int
}

// Config bundles a Pool's collaborators. Exactly one of Transform or
// Deferred should be set; when both are set Transform is preferred, per the
// eager-over-suspendable preference of the underlying contracts.
type Config[InT, OutT any] struct {
	StageID   string
	Input     *queue.Queue[stage.QueueEntry[InT]]
	Transform stage.Transform[InT, OutT]
	Deferred  stage.DeferredTransform[InT, OutT]
	RetryCtl  *retry.Controller[InT]
	Recorder  *pmetrics.Recorder
	Emit      Emit[OutT]
	OnFatal   OnFatal
	Degree    int
}

// New constructs a Pool from cfg. Degree <= 0 is treated as 1.
func New[InT, OutT any](cfg Config[InT, OutT]) *Pool[InT, OutT] {
	degree := cfg.Degree
	if degree <= 0 {
		degree = 1
	}
	return &Pool[InT, OutT]{
		stageID:   cfg.StageID,
		input:     cfg.Input,
		transform: cfg.Transform,
		deferred:  cfg.Deferred,
		retryCtl:  cfg.RetryCtl,
		recorder:  cfg.Recorder,
		emit:      cfg.Emit,
		onFatal:   cfg.OnFatal,
		degree:    degree,
	}
}

// Run starts the pool's worker goroutines and blocks until every one of
// them exits, which happens once ctx is cancelled or the input queue is
// closed and fully drained.
func (p *Pool[InT, OutT]) Run(ctx context.Context) {
	done := make(chan struct{}, p.degree)
	for i := 0; i < p.degree; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			p.runWorker(ctx)
		}()
	}
	for i := 0; i < p.degree; i++ {
		<-done
	}
}

func (p *Pool[InT, OutT]) runWorker(ctx context.Context) {
	for {
		entry, ok := p.input.Dequeue(ctx)
		if !ok {
			return
		}
		if p.recorder != nil {
			p.recorder.ObserveQueueDepth(p.input.Len())
			p.recorder.WorkersBusy(1)
		}
		result := p.process(ctx, entry)
		if p.recorder != nil {
			p.recorder.WorkersBusy(-1)
			p.recorder.Processed()
		}
		if result.Kind == stage.ResultFailure && result.Fatal != stage.FatalNone && p.onFatal != nil {
			p.onFatal(result.Fatal, result.Err)
		}
		if p.emit != nil {
			_ = p.emit(ctx, result)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// process runs entry through the configured transform, looping through the
// retry controller on recoverable failures without ever returning the item
// to the queue. attempts starts at 1 for the first try.
func (p *Pool[InT, OutT]) process(ctx context.Context, entry stage.QueueEntry[InT]) stage.WorkerResult[OutT] {
	attempts := entry.Attempts
	if attempts == 0 {
		attempts = 1
	}
	for {
		out, err := p.execute(ctx, entry.Item)
		if err == nil {
			if p.recorder != nil {
				p.recorder.Succeeded()
			}
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultSuccess, Out: out}
		}

		if ctx.Err() != nil {
			// The surrounding context is already cancelled; this failure is
			// shutdown noise, not a transform fault, so it isn't counted and
			// doesn't trigger a fatal outcome.
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultDropped}
		}

		if p.recorder != nil {
			p.recorder.Failed()
		}

		if p.retryCtl == nil {
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultFailure, Err: err, Fatal: stage.FatalStage}
		}

		decision := p.retryCtl.Decide(ctx, p.stageID, entry.Item, err, attempts)
		switch decision {
		case stage.DecisionRetry:
			if p.recorder != nil {
				p.recorder.RetryEvent(attempts, attempts == 1)
			}
			attempts++
			entry.Attempts = attempts
			continue

		case stage.DecisionSkipItem:
			if p.recorder != nil {
				p.recorder.Skipped()
			}
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultDropped}

		case stage.DecisionContinueWithoutNode:
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultFailure, Err: err, Fatal: stage.FatalStage}

		case stage.DecisionFailPipeline:
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultFailure, Err: err, Fatal: stage.FatalPipeline}

		default:
			return stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultFailure, Err: err, Fatal: stage.FatalStage}
		}
	}
}

func (p *Pool[InT, OutT]) execute(ctx context.Context, item InT) (OutT, error) {
	if p.transform != nil {
		return p.transform.Process(ctx, item)
	}
	var zero OutT
	if p.deferred != nil {
		fut, err := p.deferred.ProcessDeferred(ctx, item)
		if err != nil {
			return zero, err
		}
		return fut.Wait(ctx)
	}
	return zero, nil
}

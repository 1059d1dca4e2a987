// Package strategy wires the bounded queue, worker pool, optional reorder
// buffer, retry controller and metrics recorder into a single per-stage
// parallel execution strategy: given a channel of input items and a
// pipeline-wide cancellation token, it runs a fixed pool of workers against
// the items, forwards resolved outputs downstream in the order configured,
// and reports state transitions and a final metrics snapshot on an outcome
// channel.
package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmguard/pipelinecore/pcancel"
	"github.com/swarmguard/pipelinecore/pmetrics"
	"github.com/swarmguard/pipelinecore/queue"
	"github.com/swarmguard/pipelinecore/reorder"
	"github.com/swarmguard/pipelinecore/retry"
	"github.com/swarmguard/pipelinecore/stage"
	"github.com/swarmguard/pipelinecore/worker"

	"go.opentelemetry.io/otel/metric"
)

// State names a point in a stage run's lifecycle.
type State int

const (
	StateRunning State = iota
	StateDraining
	StateFaulted
	StateCancelled
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFaulted:
		return "faulted"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome is one observation of a stage run's progress, pushed to the
// channel Execute returns. The last value sent is always StateTerminated,
// after which the channel is closed.
type Outcome struct {
	State   State
	Err     error
	Metrics pmetrics.Snapshot
}

// Config bundles everything a Strategy needs besides the runtime input
// channel and pipeline token, which Execute takes directly.
type Config[InT, OutT any] struct {
	StageID      string
	Options      stage.ParallelOptions
	RetryOptions stage.RetryOptions
	ErrorHandler stage.ErrorHandler[InT]
	Transform    stage.Transform[InT, OutT]
	Deferred     stage.DeferredTransform[InT, OutT]
	Meter        metric.Meter
	MetricsSink  pmetrics.Sink
}

// Strategy runs one stage's parallel execution.
type Strategy[InT, OutT any] struct {
	cfg Config[InT, OutT]
}

// New constructs a Strategy. cfg.Options is normalized internally.
func New[InT, OutT any](cfg Config[InT, OutT]) *Strategy[InT, OutT] {
	cfg.Options = cfg.Options.Normalize()
	return &Strategy[InT, OutT]{cfg: cfg}
}

// Execute starts the stage. It returns immediately with the output pipe and
// outcome channel; all actual work happens on goroutines this call spawns.
// pipelineToken is the pipeline-wide cancellation source shared across
// stages: a FailPipeline decision anywhere in this stage cancels it, and
// cancellation arriving on it from elsewhere unwinds this stage too.
func (s *Strategy[InT, OutT]) Execute(pipelineToken *pcancel.Token, input <-chan InT) (*stage.Pipe[OutT], <-chan Outcome) {
	opts := s.cfg.Options
	out := stage.NewPipe[OutT](opts.OutputBufferCapacity)
	outcomes := make(chan Outcome, 4)

	local := pcancel.New(pipelineToken.Context())
	recorder := pmetrics.New(s.cfg.StageID, s.cfg.Meter)

	q := queue.New[stage.QueueEntry[InT]](opts.MaxQueueLength, queuePolicy(opts.QueuePolicy))

	var buf *reorder.Buffer[OutT]
	if opts.PreserveOrdering {
		buf = reorder.New[OutT](out)
	}

	var fatalOnce sync.Once
	var fatalKind stage.FatalKind
	var fatalCause error
	recordFatal := func(kind stage.FatalKind, cause error) {
		first := false
		fatalOnce.Do(func() {
			first = true
			fatalKind = kind
			fatalCause = &stage.StageFatalError{StageID: s.cfg.StageID, Kind: kind, Cause: cause}
			local.Cancel(fatalCause)
			if kind == stage.FatalPipeline {
				pipelineToken.Cancel(fatalCause)
			}
		})
		if !first {
			slog.Warn("fatal error swallowed after root cause", "stage", s.cfg.StageID, "error", cause)
		}
	}

	emit := func(ctx context.Context, r stage.WorkerResult[OutT]) error {
		switch r.Kind {
		case stage.ResultSuccess:
			if buf != nil {
				return buf.Submit(ctx, r)
			}
			return out.Send(ctx, r.Out)
		case stage.ResultDropped:
			if buf != nil {
				return buf.Submit(ctx, r)
			}
			return nil
		default:
			if buf != nil {
				return buf.Submit(ctx, r)
			}
			return nil
		}
	}

	var retryCtl *retry.Controller[InT]
	if s.cfg.ErrorHandler != nil {
		retryCtl = retry.New[InT](s.cfg.RetryOptions, s.cfg.ErrorHandler)
	}

	pool := worker.New[InT, OutT](worker.Config[InT, OutT]{
		StageID:   s.cfg.StageID,
		Input:     q,
		Transform: s.cfg.Transform,
		Deferred:  s.cfg.Deferred,
		RetryCtl:  retryCtl,
		Recorder:  recorder,
		Emit:      emit,
		OnFatal:   recordFatal,
		Degree:    opts.MaxDegreeOfParallelism,
	})

	recorder.StartTicker(local.Context(), opts.MetricsInterval, s.cfg.MetricsSink)

	outcomes <- Outcome{State: StateRunning, Metrics: recorder.Snapshot()}

	go func() {
		poolDone := make(chan struct{})
		go func() {
			defer close(poolDone)
			pool.Run(local.Context())
		}()

		s.produce(local, recorder, buf, q, input)
		outcomes <- Outcome{State: StateDraining, Metrics: recorder.Snapshot()}

		<-poolDone

		if buf != nil {
			_ = buf.Finish(local.Context())
		} else {
			out.Close()
		}

		final := recorder.FinalFlush(s.cfg.MetricsSink)

		switch {
		case fatalKind != stage.FatalNone:
			outcomes <- Outcome{State: StateFaulted, Err: fatalCause, Metrics: final}
		case pipelineToken.Err() != nil:
			outcomes <- Outcome{State: StateCancelled, Err: pipelineToken.Err(), Metrics: final}
		}
		outcomes <- Outcome{State: StateTerminated, Err: terminalErr(fatalKind, fatalCause, pipelineToken), Metrics: final}
		close(outcomes)
	}()

	return out, outcomes
}

func terminalErr(kind stage.FatalKind, cause error, pipelineToken *pcancel.Token) error {
	if kind != stage.FatalNone {
		return cause
	}
	return pipelineToken.Err()
}

// produce drains input into q, tagging each item with a strictly increasing
// Seq, until input closes or local is cancelled, then closes q so workers
// can observe end-of-stream once drained. A seq that never enters the queue
// (DisplacedOldest's evicted entry, or a Rejected arrival under a drop
// policy) is submitted into buf as a Dropped sentinel so the reorder buffer
// can advance nextSeq past it instead of stalling forever on a seq no
// worker will ever produce a result for.
func (s *Strategy[InT, OutT]) produce(local *pcancel.Token, recorder *pmetrics.Recorder, buf *reorder.Buffer[OutT], q *queue.Queue[stage.QueueEntry[InT]], input <-chan InT) {
	defer q.Close()
	var seq uint64
	for {
		select {
		case <-local.Done():
			return
		case item, ok := <-input:
			if !ok {
				return
			}
			entry := stage.QueueEntry[InT]{Seq: seq, Item: item, Attempts: 1, EnqueuedAt: time.Now()}
			seq++
			res, displaced, err := q.Enqueue(local.Context(), entry)
			if err != nil {
				return
			}
			switch res {
			case queue.Accepted:
				recorder.Enqueued()
			case queue.DisplacedOldest:
				recorder.DroppedOldest()
				recorder.Enqueued()
				if buf != nil {
					_ = buf.Submit(local.Context(), stage.WorkerResult[OutT]{Seq: displaced.Seq, Kind: stage.ResultDropped})
				}
			case queue.Rejected:
				recorder.DroppedNewest()
				if buf != nil {
					_ = buf.Submit(local.Context(), stage.WorkerResult[OutT]{Seq: entry.Seq, Kind: stage.ResultDropped})
				}
			}
			recorder.ObserveQueueDepth(q.Len())
		}
	}
}

func queuePolicy(p stage.QueuePolicy) queue.Policy {
	switch p {
	case stage.QueuePolicyDropOldest:
		return queue.PolicyDropOldest
	case stage.QueuePolicyDropNewest:
		return queue.PolicyDropNewest
	default:
		return queue.PolicyBlock
	}
}

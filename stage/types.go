// Package stage defines the data model and external contracts shared by the
// parallel execution strategy and its collaborators: the typed
// item/queue-entry/worker-result shapes, the per-stage configuration
// surfaces (ParallelOptions, RetryOptions), and the transform/error-handler
// contracts the strategy consumes. It holds no execution logic of its own.
package stage

import (
	"context"
	"time"
)

// QueueEntry is a single item in flight through a stage's bounded input
// queue. Seq is assigned by the producer in strictly increasing order and is
// the sole ordering key used by the reorder buffer.
type QueueEntry[InT any] struct {
	Seq        uint64
	Item       InT
	Attempts   uint32
	EnqueuedAt time.Time
}

// ResultKind tags the outcome of processing one QueueEntry.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultDropped
	ResultFailure
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultDropped:
		return "dropped"
	case ResultFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FatalKind distinguishes the two ways a ResultFailure can terminate
// execution: StageFatal closes only the stage producing it; PipelineFatal
// additionally cancels the shared pipeline-wide cancellation token.
type FatalKind int

const (
	FatalNone FatalKind = iota
	FatalStage
	FatalPipeline
)

// WorkerResult is the tagged outcome a worker produces for exactly one
// dequeued QueueEntry.
type WorkerResult[OutT any] struct {
	Seq   uint64
	Kind  ResultKind
	Out   OutT
	Err   error
	Fatal FatalKind // only meaningful when Kind == ResultFailure
}

// QueuePolicy selects the bounded-queue overflow behavior for a stage.
type QueuePolicy int

const (
	QueuePolicyBlock QueuePolicy = iota
	QueuePolicyDropOldest
	QueuePolicyDropNewest
)

// ParallelOptions configures the per-stage parallel execution strategy.
type ParallelOptions struct {
	MaxDegreeOfParallelism int
	MaxQueueLength         int
	QueuePolicy            QueuePolicy
	PreserveOrdering       bool
	OutputBufferCapacity   int
	MetricsInterval        time.Duration
}

// Normalize defaults MaxDegreeOfParallelism to 1 and MetricsInterval to 10s
// when left at or below zero. MaxQueueLength and OutputBufferCapacity are
// left as given; at or below zero they mean unbounded.
func (o ParallelOptions) Normalize() ParallelOptions {
	if o.MaxDegreeOfParallelism <= 0 {
		o.MaxDegreeOfParallelism = 1
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = 10 * time.Second
	}
	return o
}

// RetryOptions bounds per-item retry attempts.
type RetryOptions struct {
	MaxItemRetries         uint32
	MaxNodeRestartAttempts uint32
}

// MaxAttempts is the total number of tries (initial + retries) allowed for a
// single item before the controller reclassifies Retry as
// ContinueWithoutNode.
func (o RetryOptions) MaxAttempts() uint32 {
	return o.MaxItemRetries + 1
}

// Decision is the error handler's verdict for a recoverable per-item failure.
type Decision int

const (
	DecisionRetry Decision = iota
	DecisionSkipItem
	DecisionContinueWithoutNode
	DecisionFailPipeline
)

// ErrorHandler is the user-supplied, non-blocking decision function consumed
// by the retry controller. It must be fast: it runs on the worker's
// critical path.
type ErrorHandler[InT any] func(ctx context.Context, stageID string, item InT, err error, attempts uint32) Decision

// StageFatalError is the root-cause-preserving error surfaced outward when a
// stage terminates in a Faulted state.
type StageFatalError struct {
	StageID  string
	Kind     FatalKind
	Attempts uint32
	Cause    error
}

func (e *StageFatalError) Error() string {
	if e == nil || e.Cause == nil {
		return "stage fatal error"
	}
	return e.StageID + ": " + e.Cause.Error()
}

func (e *StageFatalError) Unwrap() error { return e.Cause }

package stage

import (
	"context"

	"github.com/swarmguard/pipelinecore/queue"
)

// Pipe is a typed, single-consumer, lazy sequence with explicit end-of-stream
// and cancellation. It is built on the same bounded queue used for stage
// input, always under PolicyBlock: a pipe never drops, it only ever applies
// backpressure.
type Pipe[T any] struct {
	q *queue.Queue[T]
}

// NewPipe constructs a Pipe with the given capacity; capacity <= 0 means
// unbounded.
func NewPipe[T any](capacity int) *Pipe[T] {
	return &Pipe[T]{q: queue.New[T](capacity, queue.PolicyBlock)}
}

// Send suspends until the value is accepted or ctx is cancelled or the pipe
// is closed downstream.
func (p *Pipe[T]) Send(ctx context.Context, v T) error {
	res, _, err := p.q.Enqueue(ctx, v)
	if err != nil {
		return err
	}
	if res != queue.Accepted {
		return context.Canceled
	}
	return nil
}

// Recv suspends until a value is available or the pipe is closed and
// drained, reported as ok == false.
func (p *Pipe[T]) Recv(ctx context.Context) (T, bool) {
	return p.q.Dequeue(ctx)
}

// Close signals end-of-stream; idempotent.
func (p *Pipe[T]) Close() { p.q.Close() }

// Len reports the current number of buffered, unconsumed values.
func (p *Pipe[T]) Len() int { return p.q.Len() }

// Channel adapts the pipe to a receive-only channel for callers (sinks, or
// downstream stages) that prefer idiomatic range/select consumption over
// Recv. The returned channel is closed once the pipe is fully drained after
// Close.
func (p *Pipe[T]) Channel(ctx context.Context) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			v, ok := p.Recv(ctx)
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Package reorder implements a sequence-ordered output buffer: it restores
// input order across unordered workers when a stage requests
// PreserveOrdering, holding resolved WorkerResults keyed by seq and draining
// the increasing-seq prefix downstream as it becomes available.
package reorder

import (
	"context"
	"sync"

	"github.com/swarmguard/pipelinecore/stage"
)

// Buffer holds resolved results keyed by Seq until their predecessors have
// drained, emitting them to out in strictly increasing seq order. The map of
// pending results has no size limit of its own; the only bound is out's
// capacity, which suspends the draining Submit while out is full.
type Buffer[OutT any] struct {
	out *stage.Pipe[OutT]

	mu      sync.Mutex // guards pending/nextSeq
	pending map[uint64]stage.WorkerResult[OutT]
	nextSeq uint64

	drainMu sync.Mutex // serializes the act of draining into out
}

// New constructs a Buffer that drains into out.
func New[OutT any](out *stage.Pipe[OutT]) *Buffer[OutT] {
	return &Buffer[OutT]{
		out:     out,
		pending: make(map[uint64]stage.WorkerResult[OutT]),
	}
}

// Submit places result under its Seq. If it (and any already-held successors)
// form the next consecutive run starting at nextSeq, they are drained into
// out — Dropped results advance nextSeq without being forwarded. Submit may
// suspend the caller (backpressure) when out is at capacity and the
// downstream consumer is slow; this is what prevents a slow sink from
// unboundedly inflating memory even with many fast workers.
func (b *Buffer[OutT]) Submit(ctx context.Context, result stage.WorkerResult[OutT]) error {
	b.mu.Lock()
	b.pending[result.Seq] = result
	b.mu.Unlock()

	b.drainMu.Lock()
	defer b.drainMu.Unlock()
	return b.drainLocked(ctx)
}

// drainLocked assumes drainMu is held; it does not touch out.Close.
func (b *Buffer[OutT]) drainLocked(ctx context.Context) error {
	for {
		b.mu.Lock()
		res, ok := b.pending[b.nextSeq]
		if !ok {
			b.mu.Unlock()
			return nil
		}
		delete(b.pending, b.nextSeq)
		b.nextSeq++
		b.mu.Unlock()

		if res.Kind == stage.ResultSuccess {
			if err := b.out.Send(ctx, res.Out); err != nil {
				return err
			}
		}
	}
}

// Finish emits any still-held consecutive prefix (there should be none left
// unless a prior Submit returned an error) and closes the output pipe. The
// caller must guarantee all workers have already quiesced and the producer
// has signaled end-of-stream before calling Finish.
func (b *Buffer[OutT]) Finish(ctx context.Context) error {
	b.drainMu.Lock()
	err := b.drainLocked(ctx)
	b.drainMu.Unlock()
	b.out.Close()
	return err
}

// Pending reports the number of results held awaiting their predecessor.
// Exposed for tests and metrics.
func (b *Buffer[OutT]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// NextSeq reports the next seq expected to drain. Exposed for tests.
func (b *Buffer[OutT]) NextSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextSeq
}

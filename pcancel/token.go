// Package pcancel implements a shared, pipeline-wide cancellation token: it
// links a caller-supplied context to an internal cancellation source that
// fires on the first fatal error, broadcasts idempotently, and makes a
// cancellation arriving after completion a no-op (inherent to
// context.Context semantics).
package pcancel

import (
	"context"
	"sync"
)

// Token is the shared, pipeline-wide cancellation source. One Token is
// constructed per pipeline run and passed to every stage's parallel
// strategy; any stage's FailPipeline decision cancels it, unwinding every
// other stage sharing it.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu    sync.Mutex
	cause error
	once  sync.Once
}

// New derives a Token from parent. Cancelling parent cancels the Token.
func New(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the context observed by every cancellation-aware
// suspension point.
func (t *Token) Context() context.Context { return t.ctx }

// Done reports the token's cancellation channel.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Cancel fires cancellation with cause. Idempotent: only the first call's
// cause is retained, consistent with a first-fatal-wins propagation policy.
// A Cancel arriving after the token is already done is a no-op.
func (t *Token) Cancel(cause error) {
	t.once.Do(func() {
		if t.ctx.Err() != nil {
			return
		}
		t.mu.Lock()
		t.cause = cause
		t.mu.Unlock()
		t.cancel(cause)
	})
}

// Err returns the token's cancellation cause, if any, else the context's
// own error (which may differ, e.g. parent-driven cancellation without an
// explicit Cancel call).
func (t *Token) Err() error {
	t.mu.Lock()
	cause := t.cause
	t.mu.Unlock()
	if cause != nil {
		return cause
	}
	return context.Cause(t.ctx)
}

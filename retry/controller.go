// Package retry implements the retry controller: it invokes the
// user-supplied error handler after a recoverable failure and enforces the
// per-item attempt cap from RetryOptions, reclassifying an over-cap Retry
// decision as ContinueWithoutNode.
package retry

import (
	"context"

	"github.com/swarmguard/pipelinecore/stage"
)

// Controller wraps a stage's ErrorHandler with the cap-enforcement policy.
type Controller[InT any] struct {
	opts    stage.RetryOptions
	handler stage.ErrorHandler[InT]
}

// New constructs a Controller. handler must be non-blocking: it runs on the
// worker's critical path.
func New[InT any](opts stage.RetryOptions, handler stage.ErrorHandler[InT]) *Controller[InT] {
	return &Controller[InT]{opts: opts, handler: handler}
}

// Decide asks the error handler what to do about item's failure, then
// enforces the attempt cap: a Retry decision that would push attempts past
// MaxAttempts is reclassified as ContinueWithoutNode.
func (c *Controller[InT]) Decide(ctx context.Context, stageID string, item InT, err error, attempts uint32) stage.Decision {
	decision := c.handler(ctx, stageID, item, err, attempts)
	if decision == stage.DecisionRetry && attempts >= c.opts.MaxAttempts() {
		return stage.DecisionContinueWithoutNode
	}
	return decision
}

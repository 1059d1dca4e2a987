// Package ratelimit provides a token-bucket admission gate used by
// network-bound stages to cap outbound request rate independently of the
// worker pool's degree of parallelism, so a stage sized by ResolvePreset's
// network-bound row doesn't outrun a downstream dependency's own limits.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Limiter is a token bucket: capacity tokens refill continuously at
// fillRate tokens/second, up to capacity.
type Limiter struct {
	mu         sync.Mutex
	capacity   float64
	fillRate   float64
	available  float64
	lastRefill time.Time

	admitted metric.Int64Counter
	rejected metric.Int64Counter
}

// New constructs a Limiter starting at full capacity. meter may be nil.
func New(capacity int64, fillRate float64, meter metric.Meter) *Limiter {
	l := &Limiter{
		capacity:   float64(capacity),
		fillRate:   fillRate,
		available:  float64(capacity),
		lastRefill: time.Now(),
	}
	if meter != nil {
		l.admitted, _ = meter.Int64Counter("pipelinecore_ratelimit_admitted_total")
		l.rejected, _ = meter.Int64Counter("pipelinecore_ratelimit_rejected_total")
	}
	return l
}

// Allow reports whether a single token can be consumed right now, without
// blocking.
func (l *Limiter) Allow() bool { return l.AllowN(1) }

// AllowN reports whether n tokens can be consumed right now.
func (l *Limiter) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())

	if float64(n) <= l.available {
		l.available -= float64(n)
		if l.admitted != nil {
			l.admitted.Add(context.Background(), n)
		}
		return true
	}
	if l.rejected != nil {
		l.rejected.Add(context.Background(), n)
	}
	return false
}

// Wait blocks until n tokens are available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, n int64) error {
	for {
		if l.AllowN(n) {
			return nil
		}
		wait := l.reserveAfter(n)
		if wait <= 0 {
			wait = time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	refill := elapsed * l.fillRate
	if refill <= 0 {
		return
	}
	l.available += refill
	if l.available > l.capacity {
		l.available = l.capacity
	}
	l.lastRefill = now
}

func (l *Limiter) reserveAfter(n int64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.refillLocked(now)
	need := float64(n)
	if l.available >= need {
		return 0
	}
	shortfall := need - l.available
	if l.fillRate <= 0 {
		return time.Hour
	}
	return time.Duration(shortfall / l.fillRate * float64(time.Second))
}

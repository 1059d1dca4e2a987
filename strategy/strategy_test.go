package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swarmguard/pipelinecore/pcancel"
	"github.com/swarmguard/pipelinecore/stage"
)

type doubler struct{}

func (doubler) Process(ctx context.Context, item int) (int, error) { return item * 2, nil }

func collectOutcomes(outcomes <-chan Outcome) []Outcome {
	var got []Outcome
	for o := range outcomes {
		got = append(got, o)
	}
	return got
}

func TestStrategyPreservesOrderAcrossConcurrentWorkers(t *testing.T) {
	opts := stage.ParallelOptions{
		MaxDegreeOfParallelism: 4,
		MaxQueueLength:         16,
		PreserveOrdering:       true,
		OutputBufferCapacity:   16,
		MetricsInterval:        time.Hour,
	}
	s := New[int, int](Config[int, int]{
		StageID:   "ordered",
		Options:   opts,
		Transform: doubler{},
	})

	token := pcancel.New(context.Background())
	input := make(chan int)
	out, outcomes := s.Execute(token, input)

	go func() {
		for i := 0; i < 20; i++ {
			input <- i
		}
		close(input)
	}()

	var got []int
	done := make(chan struct{})
	go func() {
		for {
			v, ok := out.Recv(context.Background())
			if !ok {
				close(done)
				return
			}
			got = append(got, v)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output to drain")
	}

	if len(got) != 20 {
		t.Fatalf("expected 20 outputs, got %d", len(got))
	}
	for i, v := range got {
		if v != i*2 {
			t.Fatalf("out of order at index %d: got %d want %d (full: %v)", i, v, i*2, got)
		}
	}

	outs := collectOutcomes(outcomes)
	if len(outs) == 0 || outs[len(outs)-1].State != StateTerminated {
		t.Fatalf("expected final outcome Terminated, got %+v", outs)
	}
	if outs[len(outs)-1].Err != nil {
		t.Fatalf("expected clean termination, got err %v", outs[len(outs)-1].Err)
	}
}

func TestStrategyFailPipelineCancelsSharedToken(t *testing.T) {
	boom := errors.New("boom")
	opts := stage.ParallelOptions{
		MaxDegreeOfParallelism: 1,
		MaxQueueLength:         4,
		OutputBufferCapacity:   4,
		MetricsInterval:        time.Hour,
	}
	fail := stage.Transform[int, int](transformFunc(func(ctx context.Context, item int) (int, error) {
		return 0, boom
	}))
	s := New[int, int](Config[int, int]{
		StageID:   "fatal",
		Options:   opts,
		Transform: fail,
		ErrorHandler: func(ctx context.Context, stageID string, item int, err error, attempts uint32) stage.Decision {
			return stage.DecisionFailPipeline
		},
	})

	token := pcancel.New(context.Background())
	input := make(chan int, 1)
	input <- 1
	close(input)

	_, outcomes := s.Execute(token, input)
	outs := collectOutcomes(outcomes)

	foundFaulted := false
	for _, o := range outs {
		if o.State == StateFaulted {
			foundFaulted = true
			if !errors.Is(o.Err, boom) {
				t.Fatalf("expected faulted err boom, got %v", o.Err)
			}
		}
	}
	if !foundFaulted {
		t.Fatalf("expected a Faulted outcome, got %+v", outs)
	}
	if token.Err() == nil {
		t.Fatal("expected shared pipeline token to be cancelled after FailPipeline")
	}
}

func TestStrategyExternalCancellationReportsCancelled(t *testing.T) {
	opts := stage.ParallelOptions{
		MaxDegreeOfParallelism: 1,
		MaxQueueLength:         4,
		OutputBufferCapacity:   4,
		MetricsInterval:        time.Hour,
	}
	s := New[int, int](Config[int, int]{
		StageID:   "slow",
		Options:   opts,
		Transform: transformFunc(func(ctx context.Context, item int) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		}),
	})

	token := pcancel.New(context.Background())
	input := make(chan int, 1)
	input <- 1

	_, outcomes := s.Execute(token, input)

	cancelCause := errors.New("pipeline shutdown")
	token.Cancel(cancelCause)

	outs := collectOutcomes(outcomes)
	last := outs[len(outs)-1]
	if last.State != StateTerminated {
		t.Fatalf("expected Terminated as final state, got %v", last.State)
	}
	foundCancelled := false
	for _, o := range outs {
		if o.State == StateCancelled {
			foundCancelled = true
		}
	}
	if !foundCancelled {
		t.Fatalf("expected a Cancelled outcome, got %+v", outs)
	}
}

type transformFunc func(ctx context.Context, item int) (int, error)

func (f transformFunc) Process(ctx context.Context, item int) (int, error) { return f(ctx, item) }

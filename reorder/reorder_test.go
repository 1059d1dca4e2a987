package reorder

import (
	"context"
	"testing"

	"github.com/swarmguard/pipelinecore/stage"
)

func TestDrainsInOrderAcrossOutOfOrderSubmits(t *testing.T) {
	ctx := context.Background()
	out := stage.NewPipe[int](0)
	buf := New[int](out)

	// submit out of order: 2, 0, 1
	if err := buf.Submit(ctx, stage.WorkerResult[int]{Seq: 2, Kind: stage.ResultSuccess, Out: 20}); err != nil {
		t.Fatal(err)
	}
	if buf.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", buf.Pending())
	}
	if err := buf.Submit(ctx, stage.WorkerResult[int]{Seq: 0, Kind: stage.ResultSuccess, Out: 0}); err != nil {
		t.Fatal(err)
	}
	if err := buf.Submit(ctx, stage.WorkerResult[int]{Seq: 1, Kind: stage.ResultSuccess, Out: 10}); err != nil {
		t.Fatal(err)
	}

	if err := buf.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	var got []int
	for {
		v, ok := out.Recv(ctx)
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []int{0, 10, 20}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestDroppedAdvancesNextSeqWithoutForwarding(t *testing.T) {
	ctx := context.Background()
	out := stage.NewPipe[int](0)
	buf := New[int](out)

	buf.Submit(ctx, stage.WorkerResult[int]{Seq: 0, Kind: stage.ResultSuccess, Out: 100})
	buf.Submit(ctx, stage.WorkerResult[int]{Seq: 1, Kind: stage.ResultDropped})
	buf.Submit(ctx, stage.WorkerResult[int]{Seq: 2, Kind: stage.ResultSuccess, Out: 102})
	buf.Finish(ctx)

	var got []int
	for {
		v, ok := out.Recv(ctx)
		if !ok {
			break
		}
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != 100 || got[1] != 102 {
		t.Fatalf("expected [100 102], got %v", got)
	}
	if buf.NextSeq() != 3 {
		t.Fatalf("expected nextSeq 3, got %d", buf.NextSeq())
	}
}

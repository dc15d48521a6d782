package work

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPriorityQueueOrder(t *testing.T) {
	pq := make(priorityQueue, 0)
	heap.Init(&pq)

	items := []*Item{
		{ID: "low", Priority: PriorityLow, seq: 1},
		{ID: "normal-1", Priority: PriorityNormal, seq: 2},
		{ID: "high", Priority: PriorityHigh, seq: 3},
		{ID: "normal-2", Priority: PriorityNormal, seq: 4},
	}
	for _, item := range items {
		heap.Push(&pq, item)
	}

	expected := []string{"high", "normal-1", "normal-2", "low"}
	for i, exp := range expected {
		item := heap.Pop(&pq).(*Item)
		if item.ID != exp {
			t.Errorf("pop[%d] = %s, expected %s", i, item.ID, exp)
		}
	}
}

func TestPoolRunsDetachedWork(t *testing.T) {
	p := NewPool(2)
	defer p.Stop()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		p.Go(TypeWriteThrough, "store week", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}
	p.Wait()

	if ran.Load() != 10 {
		t.Errorf("ran %d items, want 10", ran.Load())
	}
	s := p.Stats()
	if s.TotalCreated != 10 || s.TotalCompleted != 10 || s.TotalFailed != 0 {
		t.Errorf("unexpected stats: %+v", s)
	}
	if len(p.Recent()) != 10 {
		t.Errorf("expected 10 recent items, got %d", len(p.Recent()))
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	defer p.Stop()

	var current, peak atomic.Int32
	for i := 0; i < 8; i++ {
		p.Go(TypeOther, "slow", func(ctx context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		})
	}
	p.Wait()

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds 2 workers", peak.Load())
	}
}

func TestPoolPriorityWhenSaturated(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	release := make(chan struct{})
	p.Go(TypeOther, "blocker", func(ctx context.Context) error {
		<-release
		return nil
	})

	var mu sync.Mutex
	var order []string
	record := func(name string) Func {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	p.Submit(TypeWriteThrough, PriorityLow, "low", record("low"))
	p.Submit(TypeMarkRead, PriorityHigh, "high", record("high"))
	close(release)
	p.Wait()

	if len(order) != 2 || order[0] != "high" {
		t.Errorf("order = %v, want high first", order)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	events := p.Subscribe()
	p.Go(TypeOther, "boom", func(ctx context.Context) error {
		panic("boom")
	})
	p.Wait()

	if p.Stats().TotalFailed != 1 {
		t.Errorf("expected 1 failure, got %+v", p.Stats())
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Change != "failed" {
				continue
			}
			if ev.Item.Error == nil || ev.Item.Status != StatusFailed {
				t.Errorf("failed event item = %+v", ev.Item)
			}
			return
		case <-timeout:
			t.Fatal("no failed event")
		}
	}
}

func TestStopCancelsRunningWork(t *testing.T) {
	p := NewPool(1)

	started := make(chan struct{})
	var gotErr atomic.Value
	p.Go(TypeUpdate, "long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	})
	p.Go(TypeOther, "never runs", func(ctx context.Context) error {
		t.Error("pending work should be dropped")
		return nil
	})

	<-started
	p.Stop()

	if err, _ := gotErr.Load().(error); !errors.Is(err, context.Canceled) {
		t.Errorf("running work saw %v, want context.Canceled", err)
	}
	if p.Stats().TotalFailed != 2 {
		t.Errorf("expected both items failed, got %+v", p.Stats())
	}
	if id := p.Go(TypeOther, "late", func(ctx context.Context) error { return nil }); id != "" {
		t.Errorf("submit after stop returned %q", id)
	}
}

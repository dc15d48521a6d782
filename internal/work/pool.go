package work

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abelbrown/spaceweather/internal/logging"
)

var log = logging.For("work")

// Func is the body of a work item. ctx is the pool's context, not the
// submitter's.
type Func func(ctx context.Context) error

// Pool runs submitted work in the background with bounded concurrency.
// It is the detached scope of the cache: work keeps running after the
// submitting call returns and is cancelled only by Stop.
type Pool struct {
	mu      sync.Mutex
	idle    *sync.Cond
	workers int

	pending   priorityQueue
	active    map[string]*Item
	completed *history
	inflight  int
	stopped   bool

	subscribersMu sync.RWMutex
	subscribers   []chan Event

	totalCreated   atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64
	nextID         atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a pool running at most workers items at once.
// If workers <= 0, uses runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		workers:   workers,
		active:    make(map[string]*Item),
		completed: newHistory(100),
		ctx:       ctx,
		cancel:    cancel,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Go submits fn at normal priority and returns the item id.
func (p *Pool) Go(typ Type, desc string, fn Func) string {
	return p.Submit(typ, PriorityNormal, desc, fn)
}

// Submit queues fn and returns the item id. After Stop, work is dropped
// and the returned id is empty.
func (p *Pool) Submit(typ Type, priority int, desc string, fn Func) string {
	seq := p.nextID.Add(1)
	item := &Item{
		ID:          fmt.Sprintf("w%d", seq),
		Type:        typ,
		Status:      StatusPending,
		Description: desc,
		Priority:    priority,
		CreatedAt:   time.Now(),
		fn:          fn,
		seq:         seq,
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		log.Warn("Work submitted after stop, dropping", "type", typ, "desc", desc)
		return ""
	}
	heap.Push(&p.pending, item)
	p.inflight++
	p.totalCreated.Add(1)
	created := *item
	p.mu.Unlock()

	p.notify(Event{Item: created, Change: "created"})
	p.dispatch()
	return item.ID
}

// dispatch starts pending items while there is capacity.
func (p *Pool) dispatch() {
	var started []Item

	p.mu.Lock()
	for p.pending.Len() > 0 && len(p.active) < p.workers {
		item := heap.Pop(&p.pending).(*Item)
		item.Status = StatusActive
		item.StartedAt = time.Now()
		p.active[item.ID] = item
		started = append(started, *item)
		go p.execute(item)
	}
	p.mu.Unlock()

	for _, it := range started {
		p.notify(Event{Item: it, Change: "started"})
	}
}

func (p *Pool) execute(item *Item) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			log.Error("Work panicked", "id", item.ID, "type", item.Type, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
		p.complete(item, err)
		p.dispatch()
	}()

	if item.fn == nil {
		err = fmt.Errorf("no work function")
		return
	}
	err = item.fn(p.ctx)
}

func (p *Pool) complete(item *Item, err error) {
	p.mu.Lock()
	item.FinishedAt = time.Now()
	item.Error = err
	change := "completed"
	if err != nil {
		item.Status = StatusFailed
		change = "failed"
		p.totalFailed.Add(1)
	} else {
		item.Status = StatusComplete
		p.totalCompleted.Add(1)
	}
	item.fn = nil
	delete(p.active, item.ID)
	p.completed.push(*item)
	p.inflight--
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
	done := *item
	p.mu.Unlock()

	if err != nil {
		log.Warn("Work failed", "id", done.ID, "type", done.Type, "desc", done.Description, "error", err, "duration", done.Duration())
	} else {
		log.Debug("Work completed", "id", done.ID, "type", done.Type, "desc", done.Description, "duration", done.Duration())
	}
	p.notify(Event{Item: done, Change: change})
}

// Wait blocks until all submitted work has finished.
func (p *Pool) Wait() {
	p.mu.Lock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Stop cancels running work, drops pending work and waits for running
// items to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	var dropped []*Item
	for p.pending.Len() > 0 {
		dropped = append(dropped, heap.Pop(&p.pending).(*Item))
	}
	p.mu.Unlock()

	log.Info("Work pool stopping", "dropped", len(dropped))
	p.cancel()
	for _, item := range dropped {
		p.complete(item, context.Canceled)
	}
	p.Wait()

	s := p.Stats()
	log.Info("Work pool stopped", "created", s.TotalCreated, "completed", s.TotalCompleted, "failed", s.TotalFailed)
}

// Recent returns recently finished items, newest first.
func (p *Pool) Recent() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed.all()
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TotalCreated:   p.totalCreated.Load(),
		TotalCompleted: p.totalCompleted.Load(),
		TotalFailed:    p.totalFailed.Load(),
		Active:         len(p.active),
		Pending:        p.pending.Len(),
		Workers:        p.workers,
	}
}

// Subscribe returns a channel that receives work events. Events are
// dropped for subscribers that do not keep up.
func (p *Pool) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	p.subscribersMu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.subscribersMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (p *Pool) Unsubscribe(ch <-chan Event) {
	p.subscribersMu.Lock()
	defer p.subscribersMu.Unlock()
	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

func (p *Pool) notify(event Event) {
	p.subscribersMu.RLock()
	defer p.subscribersMu.RUnlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

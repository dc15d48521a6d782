package store

import "sync"

// ChangeKind says what happened to a database.
type ChangeKind int

const (
	// ChangeWritten follows every committed write.
	ChangeWritten ChangeKind = iota + 1
	// ChangeRecreated follows recreation of a deleted database.
	ChangeRecreated
	// ChangeMarkedRead follows marking notifications as read.
	ChangeMarkedRead
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeWritten:
		return "written"
	case ChangeRecreated:
		return "recreated"
	case ChangeMarkedRead:
		return "marked-read"
	}
	return "unknown"
}

// Change is published by a store after it changes.
type Change struct {
	Kind      ChangeKind
	Partition string
}

const subscriberBuffer = 16

// feed fans changes out to subscribers. Delivery is non-blocking: a
// subscriber that falls behind misses changes, which is harmless because
// every change means "query again".
type feed struct {
	mu     sync.Mutex
	subs   map[<-chan Change]chan Change
	closed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[<-chan Change]chan Change)}
}

func (f *feed) subscribe() <-chan Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Change, subscriberBuffer)
	if f.closed {
		close(ch)
		return ch
	}
	f.subs[ch] = ch
	return ch
}

func (f *feed) unsubscribe(ch <-chan Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(c)
	}
}

func (f *feed) publish(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, ch := range f.subs {
		delete(f.subs, k)
		close(ch)
	}
	f.closed = true
}

package comm

import "sync"

// EventRecord is one entry in a long-poll response body.
type EventRecord struct {
	Name string `json:"name"`
	Obj  any    `json:"obj"`
}

// Listener buffers broadcast events for one long-poll client. Events queue
// up while no poller is attached; the first flush with a poller present
// delivers the whole queue as a single FIFO batch, exactly once, and
// detaches the poller.
type Listener struct {
	mu     sync.Mutex
	queue  []EventRecord
	waiter chan []EventRecord
}

func NewListener() *Listener {
	return &Listener{}
}

// Push appends rec to the pending queue and flushes if a poller is waiting.
func (l *Listener) Push(rec EventRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = append(l.queue, rec)
	l.flushLocked()
}

// Attach registers the caller as the poller and blocks until a batch is
// delivered or done fires. When done fires first the poller detaches without
// delivery and the queued events stay for the next attach.
func (l *Listener) Attach(done <-chan struct{}) ([]EventRecord, bool) {
	ch := make(chan []EventRecord, 1)

	l.mu.Lock()
	l.waiter = ch
	l.flushLocked()
	l.mu.Unlock()

	select {
	case batch := <-ch:
		return batch, true
	case <-done:
		l.mu.Lock()
		if l.waiter == ch {
			l.waiter = nil
		}
		l.mu.Unlock()
		// a flush may have raced the close; it still counts as delivered
		select {
		case batch := <-ch:
			return batch, true
		default:
			return nil, false
		}
	}
}

// Pending returns the number of queued events.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Listener) flushLocked() {
	if l.waiter == nil || len(l.queue) == 0 {
		return
	}
	batch := l.queue
	l.queue = nil
	l.waiter <- batch
	l.waiter = nil
}

package xrail

import (
	"container/heap"
	"context"
	"sync"
)

// Emitter is how producers and handlers inject messages into a generation.
type Emitter interface {
	Enqueue(msg *Message)
	Emit(k Kind, v any, origin AppID) error
}

var _ Emitter = (*Queue)(nil)

// Queue is an unbounded priority queue ordered by trigger timestamp, then
// insertion order. Any goroutine may enqueue; one goroutine (the loop) takes.
type Queue struct {
	mu     sync.Mutex
	items  msgHeap
	seq    uint64
	notify chan struct{}
	audit  AuditSink
	clock  Clock
}

// NewQueue returns an empty queue. audit and clock may be nil.
func NewQueue(audit AuditSink, clock Clock) *Queue {
	if audit == nil {
		audit = nopAudit{}
	}
	if clock == nil {
		clock = defaultClock()
	}
	return &Queue{
		notify: make(chan struct{}, 1),
		audit:  audit,
		clock:  clock,
	}
}

// Enqueue records msg to the audit log, then inserts it.
func (q *Queue) Enqueue(msg *Message) {
	if msg == nil {
		return
	}
	q.audit.Record(DirectionIn, msg, NoEndpoint)

	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, queued{msg: msg, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Emit composes a message of kind k stamped with the queue's clock and enqueues it.
func (q *Queue) Emit(k Kind, v any, origin AppID) error {
	msg, err := ComposeAt(q.clock.Now(), k, v, origin)
	if err != nil {
		return err
	}
	q.Enqueue(msg)
	return nil
}

// Take removes the message with the lowest trigger timestamp, blocking
// while the queue is empty. It returns ctx.Err() once ctx is done.
func (q *Queue) Take(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := heap.Pop(&q.items).(queued).msg
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Clear drops every pending message and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	for i := range q.items {
		q.items[i] = queued{}
	}
	q.items = q.items[:0]
	q.mu.Unlock()

	// A stale wake-up would only cause one extra empty check in Take.
	select {
	case <-q.notify:
	default:
	}
	return n
}

// Len returns the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// queued pairs a message with its insertion order; equal triggers are taken FIFO.
type queued struct {
	msg *Message
	seq uint64
}

type msgHeap []queued

func (h msgHeap) Len() int { return len(h) }
func (h msgHeap) Less(i, j int) bool {
	if h[i].msg.trigger != h[j].msg.trigger {
		return h[i].msg.trigger < h[j].msg.trigger
	}
	return h[i].seq < h[j].seq
}
func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = queued{}
	*h = old[:n-1]
	return it
}

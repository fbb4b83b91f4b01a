package bridge

import (
	"sync"

	"github.com/iurnickita/cardterminal/internal/bridge/config"
	"github.com/iurnickita/cardterminal/internal/model"
)

// Queue is a bounded FIFO of notifications for one kiosk session. Put never
// blocks: when the queue is full either the oldest queued notification or
// the incoming one is dropped, depending on the policy.
type Queue struct {
	mu       sync.Mutex
	items    []model.Notification
	head     int // позиция записи
	tail     int // позиция чтения
	count    int
	capacity int
	policy   string
	dropped  int64

	ready chan struct{}
}

func NewQueue(capacity int, policy string) *Queue {
	if capacity <= 0 {
		capacity = config.Default().QueueCapacity
	}
	if policy != config.DropNewest {
		policy = config.DropOldest
	}
	return &Queue{
		items:    make([]model.Notification, capacity),
		capacity: capacity,
		policy:   policy,
		ready:    make(chan struct{}, 1),
	}
}

// Put enqueues n and reports whether a notification had to be dropped.
func (q *Queue) Put(n model.Notification) (dropped bool) {
	q.mu.Lock()
	if q.count >= q.capacity {
		dropped = true
		q.dropped++
		if q.policy == config.DropNewest {
			q.mu.Unlock()
			return dropped
		}
		q.items[q.tail] = model.Notification{}
		q.tail = (q.tail + 1) % q.capacity
		q.count--
	}
	q.items[q.head] = n
	q.head = (q.head + 1) % q.capacity
	q.count++
	q.mu.Unlock()

	// будим цикл доставки, если он спит
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes the oldest notification.
func (q *Queue) Pop() (model.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return model.Notification{}, false
	}
	n := q.items[q.tail]
	q.items[q.tail] = model.Notification{}
	q.tail = (q.tail + 1) % q.capacity
	q.count--
	return n, true
}

// Ready receives a value after a Put. A single value may stand for many puts.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Discard empties the queue and returns how many notifications it held.
func (q *Queue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	for i := range q.items {
		q.items[i] = model.Notification{}
	}
	q.head, q.tail, q.count = 0, 0, 0
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

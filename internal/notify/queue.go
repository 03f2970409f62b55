package notify

import (
	"sync"
	"time"
)

// Notification is one pending message for the polling admin client.
// Immutable once appended.
type Notification struct {
	Timestamp int64
	Subject   string
	Body      string
}

// Queue collects notifications between polls. Delivery is best-effort
// and at-most-once: the queue is not durable and is lost on restart.
// An instance is injected into every component that emits, never held
// as package state.
type Queue struct {
	mu    sync.Mutex
	items []Notification
}

func NewQueue() *Queue {
	return &Queue{items: make([]Notification, 0, 16)}
}

func (q *Queue) Append(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
}

// Add appends a notification stamped with the given unix timestamp.
func (q *Queue) Add(timestamp int64, subject, body string) {
	q.Append(Notification{Timestamp: timestamp, Subject: subject, Body: body})
}

// AddNow appends a notification stamped with the current time.
func (q *Queue) AddNow(subject, body string) {
	q.Add(time.Now().Unix(), subject, body)
}

// DrainAll removes and returns every pending notification in append
// order. The swap happens under the queue lock, so an Append racing
// with a drain lands either in the returned slice or in the next
// drain, never in both and never nowhere.
func (q *Queue) DrainAll() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = make([]Notification, 0, 16)
	return drained
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Package bridge owns the reconciliation loop: two bounded request queues, a
// serialized drain worker over the shared availability session, the periodic
// catalog re-population job, and the discrepancy recheck pass.
package bridge

import "errors"

// ErrQueueFull is returned when an enqueue would exceed the queue's capacity.
var ErrQueueFull = errors.New("bridge: queue is full")

// ItemKind discriminates queue items.
type ItemKind int

const (
	KindMovie ItemKind = iota
	KindTV
	KindSubscriptionCheck
)

func (k ItemKind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindTV:
		return "tv"
	default:
		return "subscription_check"
	}
}

// MovieRequest is one movie to reconcile.
type MovieRequest struct {
	RequestID int64
	MediaID   int64
	TMDBID    int64
	IMDBID    string
	Title     string
	Year      int
}

// TVRequest is one show with its requested seasons.
type TVRequest struct {
	RequestID int64
	MediaID   int64
	TMDBID    int64
	TraktID   int64
	IMDBID    string
	Title     string
	Year      int
	// Seasons holds normalized season labels ("Season 2").
	Seasons []string
}

// Item is a queue entry: exactly one of Movie or TV is set, except for
// subscription-check triggers which carry no payload.
type Item struct {
	Kind  ItemKind
	Movie *MovieRequest
	TV    *TVRequest
}

// Queue is a bounded FIFO. Enqueue rejects when full rather than blocking so
// the webhook path can report back-pressure to the caller.
type Queue struct {
	name string
	ch   chan Item
}

// NewQueue creates a queue with the given capacity.
func NewQueue(name string, capacity int) *Queue {
	return &Queue{name: name, ch: make(chan Item, capacity)}
}

// Enqueue appends an item, or returns ErrQueueFull.
func (q *Queue) Enqueue(item Item) error {
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryDequeue pops the oldest item if one is present.
func (q *Queue) TryDequeue() (Item, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		return Item{}, false
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Name returns the queue's name, used in logs and status reporting.
func (q *Queue) Name() string {
	return q.name
}

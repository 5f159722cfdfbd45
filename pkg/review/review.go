// Package review implements the in-memory review queue (spec §3, §6):
// nodes staged for human review with a status and optional rating. The
// queue is not persisted: it is empty each time a Mind is opened.
package review

import (
	"fmt"
	"sort"
	"sync"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Status is a review item's current disposition.
type Status int

const (
	Pending Status = iota
	Approved
	Edited
	Rejected
	Deferred
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Approved:
		return "approved"
	case Edited:
		return "edited"
	case Rejected:
		return "rejected"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Item is one node queued for review.
type Item struct {
	NodeID   nodeid.ID
	Context  string
	Priority int
	Status   Status
	Rating   *int
	Seq      uint64 // insertion order, for stable FIFO listing
}

// Queue holds review items keyed by node id.
type Queue struct {
	mu      sync.Mutex
	nextSeq uint64
	items   map[nodeid.ID]Item
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{items: make(map[nodeid.ID]Item)}
}

// Enqueue stages id for review, or re-stages it as pending if already
// present (e.g. re-queued after edits).
func (q *Queue) Enqueue(id nodeid.ID, context string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextSeq++
	q.items[id] = Item{NodeID: id, Context: context, Priority: priority, Status: Pending, Seq: q.nextSeq}
}

// Get returns a single review item.
func (q *Queue) Get(id nodeid.ID) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	return item, ok
}

func (q *Queue) setStatus(id nodeid.ID, status Status, rating *int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("review: no queued item for node %s", id)
	}
	item.Status = status
	if rating != nil {
		item.Rating = rating
	}
	q.items[id] = item
	return nil
}

// Approve marks id approved, optionally with a rating.
func (q *Queue) Approve(id nodeid.ID, rating *int) error {
	return q.setStatus(id, Approved, rating)
}

// Reject marks id rejected.
func (q *Queue) Reject(id nodeid.ID) error {
	return q.setStatus(id, Rejected, nil)
}

// Defer marks id deferred, to be revisited later.
func (q *Queue) Defer(id nodeid.ID) error {
	return q.setStatus(id, Deferred, nil)
}

// MarkEdited marks id edited (approved with modification).
func (q *Queue) MarkEdited(id nodeid.ID) error {
	return q.setStatus(id, Edited, nil)
}

// Remove drops an item from the queue entirely.
func (q *Queue) Remove(id nodeid.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, id)
}

// List returns all items with the given status, oldest first. Pass
// all=true to list every item regardless of status.
func (q *Queue) List(status Status, all bool) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		if all || item.Status == status {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Pending returns every item still awaiting review, highest priority
// first, oldest first within equal priority.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0)
	for _, item := range q.items {
		if item.Status == Pending {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

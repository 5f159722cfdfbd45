// Package synthesis tracks episode-cluster candidates awaiting
// synthesize_wisdom and which episodes have already been promoted into
// a wisdom node, so a later synthesis pass does not re-scan them
// (spec §4.5's "mark cluster members as promoted").
package synthesis

import (
	"fmt"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .synthesis_queue file.
const Magic = "SYNQ"

// Candidate is an episode cluster waiting to be turned into a wisdom
// node.
type Candidate struct {
	Members       []nodeid.ID
	AvgConfidence float64
}

// Queue holds pending candidates and the set of already-promoted
// episode ids.
type Queue struct {
	mu       sync.Mutex
	pending  []Candidate
	promoted map[nodeid.ID]bool
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{promoted: make(map[nodeid.ID]bool)}
}

// IsPromoted reports whether id has already been folded into a wisdom
// node by a prior synthesis pass.
func (q *Queue) IsPromoted(id nodeid.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.promoted[id]
}

// Enqueue adds a candidate cluster, skipping members already promoted.
// Returns false if every member was already promoted (nothing new to
// synthesize).
func (q *Queue) Enqueue(members []nodeid.ID, avgConfidence float64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	fresh := members[:0:0]
	for _, m := range members {
		if !q.promoted[m] {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return false
	}
	q.pending = append(q.pending, Candidate{Members: fresh, AvgConfidence: avgConfidence})
	return true
}

// Pop removes and returns the oldest pending candidate.
func (q *Queue) Pop() (Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Candidate{}, false
	}
	c := q.pending[0]
	q.pending = q.pending[1:]
	return c, true
}

// Pending returns a snapshot of all queued candidates.
func (q *Queue) Pending() []Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Candidate, len(q.pending))
	copy(out, q.pending)
	return out
}

// MarkPromoted records that ids have been synthesized into a wisdom
// node and should not be clustered again.
func (q *Queue) MarkPromoted(ids ...nodeid.ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.promoted[id] = true
	}
}

// Save persists the queue via the shared meta-store framing. Pending
// candidates are not persisted (they are recomputed by the next
// synthesis scan); only the promoted set, which must survive restarts
// to avoid double-synthesizing the same episodes, is written.
func (q *Queue) Save(path string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	w := metastore.NewWriter(Magic)
	for id := range q.promoted {
		idb := id.Bytes()
		buf := make([]byte, 16)
		copy(buf, idb[:])
		w.Put(buf)
	}
	return w.Save(path)
}

// Load reads a persisted queue, or returns an empty queue if path does
// not exist.
func Load(path string) (*Queue, error) {
	q := New()
	err := metastore.Load(path, Magic, func(rec []byte) error {
		if len(rec) < 16 {
			return fmt.Errorf("synthesis: record truncated")
		}
		var idb [16]byte
		copy(idb[:], rec[0:16])
		q.promoted[nodeid.FromBytes(idb)] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Package dampener implements the attractor dampener (spec §4.11): a
// per-node sliding-window recall counter that suppresses nodes retrieved
// too often recently, so the same few high-confidence nodes don't
// monopolize every recall.
package dampener

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .attractor_dampener file.
const Magic = "ATDP"

// Config holds the dampener's tuning parameters.
type Config struct {
	Beta       float64 // multiplier strength, default per spec's "β"
	WindowMs   int64   // sliding window width, default 24h
}

// DefaultConfig matches spec §4.11's reference values (β left to the
// caller's calibration; a conservative default of 0.5 is used here).
func DefaultConfig() Config {
	return Config{Beta: 0.5, WindowMs: 24 * 60 * 60 * 1000}
}

// Dampener tracks retrieval events per node.
type Dampener struct {
	mu     sync.Mutex
	cfg    Config
	events map[nodeid.ID][]int64 // retrieval timestamps, ascending
}

// New creates an empty dampener.
func New(cfg Config) *Dampener {
	return &Dampener{cfg: cfg, events: make(map[nodeid.ID][]int64)}
}

// RecordRetrieval logs that id was retrieved at time now.
func (d *Dampener) RecordRetrieval(id nodeid.ID, now int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[id] = append(d.events[id], now)
}

// recentHitsLocked counts and prunes events for id older than the
// sliding window relative to now.
func (d *Dampener) recentHitsLocked(id nodeid.ID, now int64) int {
	evs := d.events[id]
	cutoff := now - d.cfg.WindowMs
	kept := evs[:0]
	for _, t := range evs {
		if t >= cutoff {
			kept = append(kept, t)
		}
	}
	d.events[id] = kept
	return len(kept)
}

// Multiplier returns 1/(1+β·recent_hits) for id at time now, the factor
// Dampen applies to a candidate's relevance score.
func (d *Dampener) Multiplier(id nodeid.ID, now int64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	hits := d.recentHitsLocked(id, now)
	return 1.0 / (1.0 + d.cfg.Beta*float64(hits))
}

// ScoredResult is the minimal shape Dampen needs: an id and a score to
// multiply in place.
type ScoredResult struct {
	ID    nodeid.ID
	Score float64
}

// Dampen multiplies each result's score by its dampening factor and
// re-sorts descending, matching the "re-sort" step in spec §4.5 stage 7.
func (d *Dampener) Dampen(results []ScoredResult, now int64) {
	d.mu.Lock()
	for i := range results {
		hits := d.recentHitsLocked(results[i].ID, now)
		results[i].Score *= 1.0 / (1.0 + d.cfg.Beta*float64(hits))
	}
	d.mu.Unlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

// Remove drops a node's event history (on forget/merge).
func (d *Dampener) Remove(id nodeid.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.events, id)
}

// Save persists the dampener's event history via the shared meta-store
// framing: one record per node, [id 16][event count u32]{timestamp i64}*.
func (d *Dampener) Save(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := metastore.NewWriter(Magic)
	for id, evs := range d.events {
		idb := id.Bytes()
		buf := make([]byte, 16+4+8*len(evs))
		copy(buf[0:16], idb[:])
		binary.LittleEndian.PutUint32(buf[16:20], uint32(len(evs)))
		for i, t := range evs {
			off := 20 + i*8
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(t))
		}
		w.Put(buf)
	}
	return w.Save(path)
}

// Load reads a persisted dampener, or returns an empty one if path does
// not exist.
func Load(path string, cfg Config) (*Dampener, error) {
	d := New(cfg)
	err := metastore.Load(path, Magic, func(rec []byte) error {
		if len(rec) < 20 {
			return fmt.Errorf("dampener: record truncated")
		}
		var idb [16]byte
		copy(idb[:], rec[0:16])
		id := nodeid.FromBytes(idb)
		count := binary.LittleEndian.Uint32(rec[16:20])
		evs := make([]int64, count)
		for i := uint32(0); i < count; i++ {
			off := 20 + int(i)*8
			if off+8 > len(rec) {
				return fmt.Errorf("dampener: record truncated mid-events")
			}
			evs[i] = int64(binary.LittleEndian.Uint64(rec[off : off+8]))
		}
		d.events[id] = evs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

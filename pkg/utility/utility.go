// Package utility implements the per-node usage record and the
// effective-decay-rate formula described in spec §4.10: recall counts,
// feedback counts, an EMA-learned utility value, and the clamped decay
// rate that tick() applies to node confidence.
package utility

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .utility_decay file.
const Magic = "UTDC"

// Record is one node's usage bookkeeping.
type Record struct {
	RecallCount      int
	PositiveFeedback int
	NegativeFeedback int
	CumRelevance     float64
	FirstRecall      int64
	LastRecall       int64
	Utility          float64 // EMA of task-outcome feedback, in [0,1]
	OutcomeCount     int
}

// Config holds the decay-rate clamp parameters.
type Config struct {
	R            float64 // clamp ratio, default 2: rate in [base/R, base*R]
	MinDelta     float64 // absolute floor on the effective rate
	UtilityAlpha float64 // EMA weight for RecordOutcome, default 0.2
}

// DefaultConfig matches spec §4.10's reference values.
func DefaultConfig() Config {
	return Config{R: 2, MinDelta: 0.0001, UtilityAlpha: 0.2}
}

// Tracker is the utility-decay meta-store, keyed by node id.
type Tracker struct {
	mu      sync.RWMutex
	cfg     Config
	records map[nodeid.ID]Record
}

// New creates an empty tracker.
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, records: make(map[nodeid.ID]Record)}
}

// RecordRecall increments a node's recall count and cumulative relevance,
// stamping first/last recall.
func (t *Tracker) RecordRecall(id nodeid.ID, relevance float64, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, exists := t.records[id]
	if !exists {
		rec.FirstRecall = now
	}
	rec.RecallCount++
	rec.CumRelevance += relevance
	rec.LastRecall = now
	t.records[id] = rec
}

// RecordFeedback increments the positive or negative feedback counter.
func (t *Tracker) RecordFeedback(id nodeid.ID, positive bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.records[id]
	if positive {
		rec.PositiveFeedback++
	} else {
		rec.NegativeFeedback++
	}
	t.records[id] = rec
}

// RecordOutcome folds a task-outcome success signal (0 or 1, or any
// value in [0,1]) into the node's learned utility via an EMA.
func (t *Tracker) RecordOutcome(id nodeid.ID, success float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.records[id]
	rec.Utility += t.cfg.UtilityAlpha * (success - rec.Utility)
	rec.OutcomeCount++
	t.records[id] = rec
}

// EffectiveDecayRate computes base_delta(type) * recall_modifier *
// feedback_modifier * relevance_modifier, clamped to
// [base_delta/R, base_delta*R] and floored at min_delta.
func (t *Tracker) EffectiveDecayRate(id nodeid.ID, baseDelta float64) float64 {
	t.mu.RLock()
	rec, exists := t.records[id]
	t.mu.RUnlock()
	if !exists {
		return clampRate(baseDelta, baseDelta, t.cfg.R, t.cfg.MinDelta)
	}

	// More recall activity slows decay (recency of use signals
	// continued relevance); heavy negative feedback speeds it up; high
	// average relevance slows it further.
	recallMod := 1.0 / (1.0 + float64(rec.RecallCount)*0.05)
	feedbackMod := 1.0
	if total := rec.PositiveFeedback + rec.NegativeFeedback; total > 0 {
		net := float64(rec.PositiveFeedback-rec.NegativeFeedback) / float64(total)
		feedbackMod = 1.0 - 0.5*net // net positive slows decay, net negative speeds it
	}
	relevanceMod := 1.0
	if rec.RecallCount > 0 {
		avgRelevance := rec.CumRelevance / float64(rec.RecallCount)
		relevanceMod = 1.0 - 0.3*clamp01(avgRelevance)
	}

	rate := baseDelta * recallMod * feedbackMod * relevanceMod
	return clampRate(rate, baseDelta, t.cfg.R, t.cfg.MinDelta)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampRate(rate, base, r, minDelta float64) float64 {
	lo := base / r
	hi := base * r
	if rate < lo {
		rate = lo
	}
	if rate > hi {
		rate = hi
	}
	if rate < minDelta {
		rate = minDelta
	}
	return rate
}

// Get returns the raw usage record for id.
func (t *Tracker) Get(id nodeid.ID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[id]
	return rec, ok
}

// Remove drops a node's usage record.
func (t *Tracker) Remove(id nodeid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// Save persists the tracker via the shared meta-store framing.
func (t *Tracker) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w := metastore.NewWriter(Magic)
	for id, rec := range t.records {
		idb := id.Bytes()
		buf := make([]byte, 16+4+4+4+8+8+8+8+4)
		copy(buf[0:16], idb[:])
		binary.LittleEndian.PutUint32(buf[16:20], uint32(rec.RecallCount))
		binary.LittleEndian.PutUint32(buf[20:24], uint32(rec.PositiveFeedback))
		binary.LittleEndian.PutUint32(buf[24:28], uint32(rec.NegativeFeedback))
		binary.LittleEndian.PutUint64(buf[28:36], math.Float64bits(rec.CumRelevance))
		binary.LittleEndian.PutUint64(buf[36:44], uint64(rec.FirstRecall))
		binary.LittleEndian.PutUint64(buf[44:52], uint64(rec.LastRecall))
		binary.LittleEndian.PutUint64(buf[52:60], math.Float64bits(rec.Utility))
		binary.LittleEndian.PutUint32(buf[60:64], uint32(rec.OutcomeCount))
		w.Put(buf)
	}
	return w.Save(path)
}

// Load reads a persisted tracker, or returns an empty one if path does
// not exist.
func Load(path string, cfg Config) (*Tracker, error) {
	t := New(cfg)
	err := metastore.Load(path, Magic, func(rec []byte) error {
		if len(rec) < 64 {
			return fmt.Errorf("utility: record truncated")
		}
		var idb [16]byte
		copy(idb[:], rec[0:16])
		id := nodeid.FromBytes(idb)
		t.records[id] = Record{
			RecallCount:      int(binary.LittleEndian.Uint32(rec[16:20])),
			PositiveFeedback: int(binary.LittleEndian.Uint32(rec[20:24])),
			NegativeFeedback: int(binary.LittleEndian.Uint32(rec[24:28])),
			CumRelevance:     math.Float64frombits(binary.LittleEndian.Uint64(rec[28:36])),
			FirstRecall:      int64(binary.LittleEndian.Uint64(rec[36:44])),
			LastRecall:       int64(binary.LittleEndian.Uint64(rec[44:52])),
			Utility:          math.Float64frombits(binary.LittleEndian.Uint64(rec[52:60])),
			OutcomeCount:     int(binary.LittleEndian.Uint32(rec[60:64])),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

package mind

import (
	"fmt"
	"math"
	"sort"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/unified"
	"github.com/liliang-cn/chitta/pkg/wal"
)

// Attractor-scoring weights from spec §4.11's find_attractors formula.
const (
	attractorWConfidence = 0.4
	attractorWDegree     = 0.3
	attractorWAge        = 0.3
	attractorDegreeNorm  = 4.0
	attractorAgeNormDays = 30.0
)

// hebbianStrengthenLocked WAL-logs and applies an edge strengthening
// between two already-resolved nodes, assuming the caller holds m.mu.
func (m *Mind) hebbianStrengthenLocked(a, b nodeid.ID, delta float64) {
	fromSlot, ok := m.index.Lookup(a)
	if !ok {
		return
	}
	toSlot, ok := m.index.Lookup(b)
	if !ok {
		return
	}
	weight := delta
	for _, e := range m.edges[fromSlot] {
		if e.Target.Slot == toSlot && e.Kind == EdgeKindSimilar {
			weight = e.Weight + delta
			break
		}
	}
	weight = math.Min(1, weight)
	if err := m.w.Append(wal.Record{
		Kind: wal.KindEdgeAdd, SourceID: a, TargetID: b, EdgeKind: EdgeKindSimilar, Weight: weight,
	}); err != nil {
		m.log.Warn("failed to log hebbian strengthening", "err", err)
		return
	}
	m.addEdgeLocked(fromSlot, toSlot, EdgeKindSimilar, weight)
}

// HebbianUpdate strengthens every pair among ids by delta (capped at 1),
// the batch form of hebbianStrengthenLocked. Each pair gets one edge,
// from the earlier id in ids to the later one; no reverse edge is added.
func (m *Mind) HebbianUpdate(ids []nodeid.ID, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) < 2 {
		return wrapErr("hebbian_update", fmt.Errorf("%w: need at least two ids", ErrInvalidArgument))
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			m.hebbianStrengthenLocked(ids[i], ids[j], delta)
		}
	}
	return nil
}

// Attractor is one ranked entry from FindAttractors.
type Attractor struct {
	ID    nodeid.ID
	Score float64
}

// FindAttractors ranks the top n nodes by
// 0.4*confidence + 0.3*min(log2(1+degree)/4,1) + 0.3*min(age_days/30,1),
// the basin-strength formula spec §4.11 names.
func (m *Mind) FindAttractors(n int) []Attractor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findAttractorsLocked(n, nowMs())
}

func (m *Mind) findAttractorsLocked(n int, now int64) []Attractor {
	var scored []Attractor
	m.index.ForEachSlot(func(slot nodeid.SlotId, node unified.Node) bool {
		conf := float64(node.ConfMu) * (1 - float64(node.ConfSigma2))
		degree := len(m.edges[slot])
		degreeScore := math.Min(math.Log2(1+float64(degree))/attractorDegreeNorm, 1)
		ageDays := float64(now-node.Created) / (1000 * 60 * 60 * 24)
		ageScore := math.Min(ageDays/attractorAgeNormDays, 1)
		score := attractorWConfidence*conf + attractorWDegree*degreeScore + attractorWAge*ageScore
		scored = append(scored, Attractor{ID: node.ID, Score: score})
		return true
	})
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

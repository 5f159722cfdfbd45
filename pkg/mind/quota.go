package mind

import (
	"fmt"
	"sort"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/unified"
)

const defaultEvictionBatch = 10

// enforceQuotaLocked evicts the lowest-utility nodes of typ (or, absent a
// per-type quota, of any type) until both the per-type soft cap and the
// global hard cap from spec §4.9 have room for one more insert.
func (m *Mind) enforceQuotaLocked(typ NodeType) error {
	global := m.cfg.TotalCapacity
	if global <= 0 {
		global = m.index.SlotCapacity()
	}
	if m.index.SlotsInUse() < global {
		if cap, ok := m.cfg.TypeQuotas[byte(typ)]; !ok || cap <= 0 || m.countType(typ) < cap {
			return nil
		}
	}

	victims := m.rankEvictionCandidatesLocked(typ, defaultEvictionBatch)
	if len(victims) == 0 {
		return wrapErr("quota", fmt.Errorf("%w: no evictable nodes remain", ErrOutOfCapacity))
	}
	for _, id := range victims {
		if err := m.removeNodeLocked(id); err != nil {
			m.log.Warn("quota eviction failed", "node", id.String(), "err", err)
		}
	}
	return nil
}

func (m *Mind) countType(typ NodeType) int {
	n := 0
	m.index.ForEachSlot(func(_ nodeid.SlotId, node unified.Node) bool {
		if NodeType(node.Type) == typ {
			n++
		}
		return true
	})
	return n
}

type evictionCandidate struct {
	id      nodeid.ID
	utility float64
}

// rankEvictionCandidatesLocked returns up to k node ids ordered by
// ascending utility score. When typ has a positive quota in TypeQuotas,
// only nodes of typ are candidates; otherwise every node is ranked.
func (m *Mind) rankEvictionCandidatesLocked(typ NodeType, k int) []nodeid.ID {
	var candidates []evictionCandidate
	m.index.ForEachSlot(func(_ nodeid.SlotId, node unified.Node) bool {
		if cap, ok := m.cfg.TypeQuotas[byte(typ)]; ok && cap > 0 && NodeType(node.Type) != typ {
			return true
		}
		u := 0.0
		if rec, ok := m.utilityTracker.Get(node.ID); ok {
			u = rec.Utility
		}
		candidates = append(candidates, evictionCandidate{id: node.ID, utility: u})
		return true
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].utility < candidates[j].utility })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]nodeid.ID, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

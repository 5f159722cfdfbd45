package mind

import "github.com/liliang-cn/chitta/pkg/nodeid"

// Spreading-activation constants from spec §4.6.
const (
	spreadDecay      = 0.5
	spreadMaxDepth   = 3
	spreadCutoff     = 0.01
)

// Activation is one node reached during spreading activation, carrying
// the residual activation it arrived with.
type Activation struct {
	ID         nodeid.ID
	Activation float64
	Depth      int
}

// Resonate seeds activation from seeds (weighted by their relevance) and
// spreads it outward through the edge graph, decaying by spreadDecay per
// hop and each edge's own weight, stopping at spreadMaxDepth hops or once
// a path's contribution drops below spreadCutoff. Matches spec §4.6's
// resonate().
func (m *Mind) Resonate(seeds []Result, spreadStrength float64) []Activation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resonateLocked(seeds, spreadStrength)
}

// FullResonate is Resonate seeded from every node currently in the hot
// tier, the "resonate the whole working set" variant spec §4.6 names.
func (m *Mind) FullResonate(spreadStrength float64) []Activation {
	m.mu.Lock()
	defer m.mu.Unlock()

	var seeds []Result
	for _, slot := range m.hotTier.Keys() {
		n, ok := m.index.Get(slot)
		if !ok {
			continue
		}
		seeds = append(seeds, Result{ID: n.ID, Relevance: 1})
	}
	return m.resonateLocked(seeds, spreadStrength)
}

func (m *Mind) resonateLocked(seeds []Result, spreadStrength float64) []Activation {
	totals := make(map[nodeid.SlotId]float64)
	type frontierEntry struct {
		slot  nodeid.SlotId
		value float64
		depth int
	}
	var frontier []frontierEntry

	for _, s := range seeds {
		slot, ok := m.index.Lookup(s.ID)
		if !ok {
			continue
		}
		a0 := spreadStrength * s.Relevance
		totals[slot] += a0
		frontier = append(frontier, frontierEntry{slot: slot, value: a0, depth: 0})
	}

	for len(frontier) > 0 {
		next := frontier[:0]
		for _, f := range frontier {
			if f.depth >= spreadMaxDepth {
				continue
			}
			for _, e := range m.edges[f.slot] {
				contribution := f.value * spreadDecay * e.Weight
				if contribution < spreadCutoff {
					continue
				}
				totals[e.Target.Slot] += contribution
				next = append(next, frontierEntry{slot: e.Target.Slot, value: contribution, depth: f.depth + 1})
			}
		}
		frontier = next
	}

	out := make([]Activation, 0, len(totals))
	for slot, v := range totals {
		n, ok := m.index.Get(slot)
		if !ok {
			continue
		}
		out = append(out, Activation{ID: n.ID, Activation: v})
	}
	return out
}

// Propagate pushes a confidence delta outward from source through the
// edge graph, the same decay/depth rules as Resonate, updating each
// reached node's confidence in place. Matches spec §4.7's propagate().
func (m *Mind) Propagate(source nodeid.ID, delta, decay float64, maxDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.index.Lookup(source)
	if !ok {
		return wrapErr("propagate", ErrNotFound)
	}
	if decay <= 0 {
		decay = spreadDecay
	}
	if maxDepth <= 0 {
		maxDepth = spreadMaxDepth
	}

	visited := map[nodeid.SlotId]bool{slot: true}
	type frontierEntry struct {
		slot  nodeid.SlotId
		value float64
		depth int
	}
	frontier := []frontierEntry{{slot: slot, value: delta, depth: 0}}

	for len(frontier) > 0 {
		var next []frontierEntry
		for _, f := range frontier {
			if f.depth >= maxDepth {
				continue
			}
			for _, e := range m.edges[f.slot] {
				if visited[e.Target.Slot] {
					continue
				}
				contribution := f.value * decay * e.Weight
				if contribution < spreadCutoff && contribution > -spreadCutoff {
					continue
				}
				visited[e.Target.Slot] = true
				if n, ok := m.index.Get(e.Target.Slot); ok {
					id := n.ID
					_ = m.strengthenConfidenceLocked(id, contribution)
				}
				next = append(next, frontierEntry{slot: e.Target.Slot, value: contribution, depth: f.depth + 1})
			}
		}
		frontier = next
	}
	return nil
}

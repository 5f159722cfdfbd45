package mind

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/unified"
)

// Coherence-weight and health-threshold constants from SPEC_FULL.md
// §4.17.
const (
	coherenceWLocal      = 0.3
	coherenceWGlobal     = 0.3
	coherenceWTemporal   = 0.2
	coherenceWStructural = 0.2

	healthWStructural = 0.25
	healthWSemantic   = 0.25
	healthWTemporal   = 0.25
	healthWCapacity   = 0.25

	healthThresholdHealthy  = 0.7
	healthThresholdDegraded = 0.4
)

// Coherence is the (local, global, temporal, structural, tau) tuple
// spec §6 names.
type Coherence struct {
	Local      float64
	Global     float64
	Temporal   float64
	Structural float64
	Tau        float64
}

// Health extends Coherence with capacity pressure and an overall
// qualitative status.
type Health struct {
	Coherence
	TemporalStaleness float64
	Capacity          float64
	Psi               float64
	Status            string
}

// Coherence computes the four coherence dimensions and their weighted
// mean tau, per SPEC_FULL.md §4.17.
func (m *Mind) Coherence() Coherence {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coherenceLocked(nowMs())
}

func (m *Mind) coherenceLocked(now int64) Coherence {
	local := m.localCoherenceLocked()
	global := m.globalCoherenceLocked()
	temporal := m.temporalCoherenceLocked(now)
	structural := m.structuralCoherenceLocked()
	tau := coherenceWLocal*local + coherenceWGlobal*global + coherenceWTemporal*temporal + coherenceWStructural*structural
	return Coherence{Local: local, Global: global, Temporal: temporal, Structural: structural, Tau: tau}
}

func (m *Mind) localCoherenceLocked() float64 {
	if len(m.recentObservations) < 2 {
		return 1
	}
	var sum float64
	var n int
	for i := 0; i < len(m.recentObservations); i++ {
		for j := i + 1; j < len(m.recentObservations); j++ {
			sum += m.pairwiseCosineLocked(m.recentObservations[i], m.recentObservations[j])
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

func (m *Mind) globalCoherenceLocked() float64 {
	var sum float64
	var n int
	for _, edges := range m.edges {
		for _, e := range edges {
			if e.Kind != EdgeKindSimilar {
				continue
			}
			sum += e.Weight
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (m *Mind) temporalCoherenceLocked(now int64) float64 {
	interval := m.cfg.DecayIntervalMs
	if interval <= 0 {
		interval = 1
	}
	total, fresh := 0, 0
	m.index.ForEachSlot(func(_ nodeid.SlotId, node unified.Node) bool {
		total++
		if now-node.Accessed <= interval {
			fresh++
		}
		return true
	})
	if total == 0 {
		return 1
	}
	return float64(fresh) / float64(total)
}

func (m *Mind) structuralCoherenceLocked() float64 {
	total, live := 0, 0
	for from, edges := range m.edges {
		for _, e := range edges {
			total++
			if gen := m.index.Generation(e.Target.Slot); gen == e.Target.Gen && gen != 0 {
				live++
			}
			_ = from
		}
	}
	if total == 0 {
		return 1
	}
	return float64(live) / float64(total)
}

// Health is the exported health() operation.
func (m *Mind) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked(nowMs())
}

func (m *Mind) healthLocked(now int64) Health {
	coh := m.coherenceLocked(now)
	capacity := 0.0
	if cap := m.index.SlotCapacity(); cap > 0 {
		capacity = float64(m.index.SlotsInUse()) / float64(cap)
	}
	psi := healthWStructural*coh.Structural + healthWSemantic*coh.Tau + healthWTemporal*coh.Temporal + healthWCapacity*(1-capacity)

	status := "healthy"
	if psi < healthThresholdDegraded {
		status = "critical"
	} else if psi < healthThresholdHealthy {
		status = "degraded"
	}

	return Health{
		Coherence:         coh,
		TemporalStaleness: 1 - coh.Temporal,
		Capacity:          capacity,
		Psi:               psi,
		Status:            status,
	}
}

// State renders a human-readable snapshot of the engine's current size
// and health, using the teacher's humanize-backed reporting style.
func (m *Mind) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.healthLocked(nowMs())
	return fmt.Sprintf(
		"chitta: %s nodes, %s capacity used, status=%s (psi=%.2f)",
		humanize.Comma(int64(m.index.SlotsInUse())),
		humanize.FormatFloat("#,###.#%", h.Capacity*100),
		h.Status, h.Psi,
	)
}

// CountZeroVectors returns how many nodes hold an all-zero embedding,
// typically indicating a failed or skipped embedding call upstream.
func (m *Mind) CountZeroVectors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	m.index.ForEachSlot(func(_ nodeid.SlotId, node unified.Node) bool {
		if isZeroVector(node.Embedding) {
			n++
		}
		return true
	})
	return n
}

func isZeroVector(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// RegenerateEmbeddings re-embeds up to batchSize zero-vector nodes from
// their stored payload text, returning how many were fixed.
func (m *Mind) RegenerateEmbeddings(batchSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Embedder == nil {
		return 0, wrapErr("regenerate_embeddings", ErrDependencyUnavailable)
	}

	var targets []unified.Node
	m.index.ForEachSlot(func(_ nodeid.SlotId, node unified.Node) bool {
		if len(targets) >= batchSize {
			return false
		}
		if isZeroVector(node.Embedding) {
			targets = append(targets, node)
		}
		return true
	})

	fixed := 0
	for _, n := range targets {
		vec, err := m.cfg.Embedder.Embed(string(n.Payload))
		if err != nil {
			m.log.Warn("regenerate_embeddings: embed failed", "node", n.ID.String(), "err", err)
			continue
		}
		slot, ok := m.index.Lookup(n.ID)
		if !ok {
			continue
		}
		if err := m.index.UpdateContent(slot, vec, n.Payload); err != nil {
			m.log.Warn("regenerate_embeddings: update failed", "node", n.ID.String(), "err", err)
			continue
		}
		_ = m.ann.Delete(slot)
		_ = m.ann.Insert(slot)
		fixed++
	}
	return fixed, nil
}

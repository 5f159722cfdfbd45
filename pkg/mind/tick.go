package mind

import (
	"fmt"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/unified"
)

const (
	synthesisSimilarityThreshold = 0.75
	synthesisMinCluster          = 3
	synthesisConfidenceBoost     = 0.2
	synthesisConfidenceCap       = 0.95
	synthesisPayloadTruncate     = 200
)

// DynamicsReport summarizes one tick() invocation, spec §4.13's return
// value.
type DynamicsReport struct {
	NodesDecayed     int
	NodesDemoted     int
	CheckpointRan    bool
	WisdomSynthesized int
	AttractorsRun    bool
}

// Tick runs one maintenance cycle of six steps: decay, tier management,
// checkpoint, health-triggered extra decay, synthesis, and an optional
// attractor-dynamics pass. It has no feedback step: FeedbackHelpful and
// FeedbackMisleading apply their effect immediately.
func (m *Mind) Tick(runAttractorDynamics bool) (DynamicsReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report DynamicsReport
	now := nowMs()

	if m.decayLimiter.Allow() {
		report.NodesDecayed = m.decayPassLocked(now)
	}

	report.NodesDemoted = m.tierManagementLocked()

	if m.checkpointLimiter.Allow() {
		if err := m.checkpointLocked(); err != nil {
			m.log.Warn("checkpoint failed", "err", err)
		} else {
			report.CheckpointRan = true
		}
	}

	if h := m.healthLocked(now); h.TemporalStaleness > 0.5 && !m.decayLimiter.Allow() {
		report.NodesDecayed += m.decayPassLocked(now)
	}

	count, err := m.synthesizeWisdomLocked(now)
	if err != nil {
		m.log.Warn("synthesis failed", "err", err)
	}
	report.WisdomSynthesized = count

	if runAttractorDynamics {
		m.findAttractorsLocked(10, now)
		report.AttractorsRun = true
	}

	return report, nil
}

// decayPassLocked nudges every node's confidence toward 0 by its
// effective decay rate, per spec §4.10.
func (m *Mind) decayPassLocked(now int64) int {
	n := 0
	m.index.ForEachSlot(func(slot nodeid.SlotId, node unified.Node) bool {
		rate := m.utilityTracker.EffectiveDecayRate(node.ID, float64(node.Delta))
		newMu := clamp01(float64(node.ConfMu) - rate)
		if newMu == float64(node.ConfMu) {
			return true
		}
		_ = m.index.UpdateConfidence(slot, float32(newMu), node.ConfSigma2, node.ConfN)
		n++
		return true
	})
	return n
}

// tierManagementLocked removes from the hot tier every slot not accessed
// within HotAgeMs, adds every other slot, and returns the number removed;
// the nodes themselves are untouched.
func (m *Mind) tierManagementLocked() int {
	demoted := 0
	now := nowMs()
	m.index.ForEachSlot(func(slot nodeid.SlotId, node unified.Node) bool {
		age := now - node.Accessed
		if age > m.cfg.HotAgeMs {
			if m.hotTier.Remove(slot) {
				demoted++
			}
		} else {
			m.hotTier.Add(slot, struct{}{})
		}
		return true
	})
	return demoted
}

func (m *Mind) checkpointLocked() error {
	if err := m.tags.Save(pathFor(m.cfg.Path, ".tags")); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if err := m.utilityTracker.Save(pathFor(m.cfg.Path, ".utility_decay")); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if err := m.dampenerStore.Save(pathFor(m.cfg.Path, ".attractor_dampener")); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

// synthesizeWisdomLocked scans episode nodes for clusters of cosine-
// similar unprocessed episodes and, for clusters of at least
// synthesisMinCluster members, creates one new wisdom node summarizing
// the pattern, per spec §4.5's synthesize_wisdom algorithm.
func (m *Mind) synthesizeWisdomLocked(now int64) (int, error) {
	var episodeSlots []nodeid.SlotId
	m.index.ForEachSlot(func(slot nodeid.SlotId, node unified.Node) bool {
		if NodeType(node.Type) == TypeEpisode && !m.synthesisQ.IsPromoted(node.ID) {
			episodeSlots = append(episodeSlots, slot)
		}
		return true
	})

	created := 0
	seen := make(map[nodeid.SlotId]bool)
	for _, slot := range episodeSlots {
		if seen[slot] {
			continue
		}
		n, ok := m.index.Get(slot)
		if !ok {
			continue
		}
		hits := m.ann.Search(n.Embedding, synthesisMinCluster*4)
		var cluster []unified.Node
		var clusterIDs []nodeid.ID
		for _, h := range hits {
			cn, ok := m.index.Get(h.Slot)
			if !ok || NodeType(cn.Type) != TypeEpisode || m.synthesisQ.IsPromoted(cn.ID) {
				continue
			}
			if float64(quantCosine(n.Embedding, cn.Embedding)) < synthesisSimilarityThreshold {
				continue
			}
			cluster = append(cluster, cn)
			clusterIDs = append(clusterIDs, cn.ID)
			seen[h.Slot] = true
		}
		if len(cluster) < synthesisMinCluster {
			continue
		}
		if !m.synthesisQ.Enqueue(clusterIDs, avgConfidence(cluster)) {
			continue
		}

		text := truncateBytes(string(cluster[0].Payload), synthesisPayloadTruncate)
		payload := []byte(fmt.Sprintf("Pattern observed (%d occurrences): %s", len(cluster), text))
		confidence := avgConfidence(cluster) + synthesisConfidenceBoost
		if confidence > synthesisConfidenceCap {
			confidence = synthesisConfidenceCap
		}
		if _, err := m.rememberVectorLocked(cluster[0].Embedding, payload, RememberOptions{
			Type:       TypeWisdom,
			Confidence: confidence,
		}); err != nil {
			return created, err
		}
		m.synthesisQ.MarkPromoted(clusterIDs...)
		created++
	}
	return created, nil
}

// SynthesizeWisdom scans episode nodes for clusters of near-duplicate,
// unprocessed episodes and promotes each cluster found into one new
// wisdom node, spec §6's synthesize_wisdom() -> count control operation.
// It is also run as one step of Tick; expose it standalone for callers
// that want synthesis without a full maintenance cycle.
func (m *Mind) SynthesizeWisdom() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synthesizeWisdomLocked(nowMs())
}

func avgConfidence(nodes []unified.Node) float64 {
	if len(nodes) == 0 {
		return 0
	}
	sum := 0.0
	for _, n := range nodes {
		sum += float64(n.ConfMu) * (1 - float64(n.ConfSigma2))
	}
	return sum / float64(len(nodes))
}

func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

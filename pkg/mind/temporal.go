package mind

import (
	"fmt"
	"math"
	"sort"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/unified"
)

// Personalized-PageRank and Hawkes-timeline constants, matching the
// original engine's forward_push/hawkes_timeline reference values.
const (
	pprAlpha          = 0.15
	pprMinScore       = 0.01
	pprSeedK          = 5
	hawkesBeta        = 0.05
	hawkesBase        = 0.1
	hawkesAccessBoost = 0.3
	msPerDay          = 86400000.0
	msPerHour         = 3600000
)

func nodeResult(n unified.Node) Result {
	return Result{
		ID:         n.ID,
		Type:       NodeType(n.Type),
		Confidence: Confidence{Mu: float64(n.ConfMu), Sigma2: float64(n.ConfSigma2), N: float64(n.ConfN)},
		Epsilon:    float64(n.Epsilon),
		Created:    n.Created,
		Accessed:   n.Accessed,
		Payload:    n.Payload,
		Text:       string(n.Payload),
	}
}

// TemporalRangeQuery returns every node created within [from, to] (ms
// since epoch), oldest first, truncated to limit. Spec §6's
// temporal_range_query(from,to,limit); grounded on the teacher's
// pkg/hindsight temporalSearch time-window filter.
func (m *Mind) TemporalRangeQuery(from, to int64, limit int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var out []Result
	m.index.ForEachSlot(func(_ nodeid.SlotId, n unified.Node) bool {
		if n.Created >= from && n.Created <= to {
			r := nodeResult(n)
			r.Similarity, r.Relevance = 1, 1
			out = append(out, r)
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// HawkesTimeline returns the last `hours` of nodes re-ranked by a
// Hawkes-process-style self-exciting intensity: a baseline term that
// decays with age plus a boost for nodes touched more recently than they
// were created, matching the original engine's hawkes_timeline(hours,
// limit) exactly (β=0.05, base 0.1, access boost 0.3, clamped to 1).
func (m *Mind) HawkesTimeline(hours int, limit int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hours <= 0 {
		hours = 24
	}
	if limit <= 0 {
		limit = 20
	}

	now := nowMs()
	from := now - int64(hours)*msPerHour

	var results []Result
	m.index.ForEachSlot(func(_ nodeid.SlotId, n unified.Node) bool {
		if n.Created >= from && n.Created <= now {
			results = append(results, nodeResult(n))
		}
		return true
	})

	for i := range results {
		r := &results[i]
		ageDays := float64(now-r.Created) / msPerDay
		intensity := hawkesBase + math.Exp(-hawkesBeta*ageDays)

		accessDays := float64(now-r.Accessed) / msPerDay
		if accessDays < ageDays {
			intensity += hawkesAccessBoost * math.Exp(-hawkesBeta*accessDays)
		}
		if intensity > 1 {
			intensity = 1
		}
		r.Similarity, r.Relevance = intensity, intensity
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Relevance > results[j].Relevance })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

type reverseEdge struct {
	source nodeid.SlotId
	weight float64
}

// reverseEdgesLocked inverts the outgoing adjacency m.edges into an
// incoming-edge index. Built on demand: forward-push PPR is the only
// consumer that needs predecessors rather than successors.
func (m *Mind) reverseEdgesLocked() map[nodeid.SlotId][]reverseEdge {
	rev := make(map[nodeid.SlotId][]reverseEdge)
	for slot, edges := range m.edges {
		for _, e := range edges {
			rev[e.Target.Slot] = append(rev[e.Target.Slot], reverseEdge{source: slot, weight: e.Weight})
		}
	}
	return rev
}

// forwardPushLocked is the Andersen-Chung-Lang forward-push approximation
// of personalized PageRank seeded at source: residual mass above rMax is
// pushed into pi and the remainder (1-alpha) propagated to predecessors,
// matching the original engine's forward_push.
func forwardPushLocked(source nodeid.SlotId, weight float64, pi, residual map[nodeid.SlotId]float64, reverse map[nodeid.SlotId][]reverseEdge, rMax, alpha float64) {
	residual[source] += weight
	queue := []nodeid.SlotId{source}
	inQueue := map[nodeid.SlotId]bool{source: true}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		inQueue[u] = false

		ru := residual[u]
		if math.Abs(ru) < rMax {
			continue
		}

		pi[u] += alpha * ru
		residual[u] = 0

		pushVal := (1 - alpha) * ru
		preds := reverse[u]
		inDeg := len(preds)
		if inDeg == 0 {
			continue
		}
		for _, re := range preds {
			delta := pushVal * re.weight / float64(inDeg)
			if math.Abs(delta) <= rMax*0.1 {
				continue
			}
			residual[re.source] += delta
			if !inQueue[re.source] {
				queue = append(queue, re.source)
				inQueue[re.source] = true
			}
		}
	}
}

// PPRQuery expands a query's dense/sparse seed set through the edge
// graph via personalized PageRank, surfacing nodes a pure similarity
// search would miss because they're connected to, rather than textually
// similar to, the query. Spec §6's ppr_query(query,k,ε); grounded on the
// teacher's pkg/graph.GraphStore.PageRank power-iteration shape, adapted
// to the original engine's forward-push personalization.
func (m *Mind) PPRQuery(query string, k int, epsilon float64) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k <= 0 {
		k = 10
	}
	if epsilon <= 0 {
		epsilon = 0.05
	}
	if m.cfg.Embedder == nil {
		return nil, wrapErr("ppr_query", ErrDependencyUnavailable)
	}
	qvec, err := m.cfg.Embedder.Embed(query)
	if err != nil {
		return nil, wrapErr("ppr_query", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err))
	}

	seeds, err := m.recallLocked(query, qvec, RecallOptions{K: pprSeedK}, false)
	if err != nil || len(seeds) == 0 {
		return nil, err
	}

	reverse := m.reverseEdgesLocked()
	pi := make(map[nodeid.SlotId]float64)
	residual := make(map[nodeid.SlotId]float64)
	rMax := epsilon / (2.0 * float64(k))

	seedSlots := make(map[nodeid.SlotId]bool, len(seeds))
	for _, s := range seeds {
		slot, ok := m.index.Lookup(s.ID)
		if !ok {
			continue
		}
		seedSlots[slot] = true
		forwardPushLocked(slot, s.Relevance, pi, residual, reverse, rMax, pprAlpha)
	}

	type scoredSlot struct {
		slot  nodeid.SlotId
		score float64
	}
	var ranked []scoredSlot
	for slot, score := range pi {
		if seedSlots[slot] || score < pprMinScore {
			continue
		}
		ranked = append(ranked, scoredSlot{slot, score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]Result, 0, len(ranked))
	for _, rs := range ranked {
		n, ok := m.index.Get(rs.slot)
		if !ok {
			continue
		}
		r := nodeResult(n)
		r.Similarity, r.Relevance = rs.score, rs.score
		out = append(out, r)
	}
	return out, nil
}

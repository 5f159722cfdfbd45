package mind

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/chitta/pkg/dampener"
	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/realm"
	"github.com/liliang-cn/chitta/pkg/unified"
)

// RRF fusion and lateral-inhibition constants from spec §4.5.
const (
	rrfC            = 60.0
	denseWeight     = 0.7
	sparseWeight    = 0.3
	weightCosine    = 0.55
	weightConf      = 0.15
	weightRecency   = 0.15
	weightType      = 0.05
	weightPriming   = 0.10
	inhibitionTheta = 0.85
	inhibitionAlpha = 0.3
	hebbianTopN     = 5
	hebbianDelta    = 0.05
)

// RecallOptions narrows a recall query, per spec §4.5's query-intent
// routing (tags-only, type filter, realm override).
type RecallOptions struct {
	K           int
	Types       []NodeType
	Tags        []string
	RequireTags bool // AND vs OR semantics for Tags
	Realm       string
}

type candidate struct {
	slot      nodeid.SlotId
	node      unified.Node
	rrf       float64
	cosine    float64
}

// Recall runs the full hybrid retrieval pipeline for free-text query,
// matching spec §4.5's eleven ordered stages.
func (m *Mind) Recall(query string, opts RecallOptions) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.K <= 0 {
		opts.K = 10
	}
	if m.cfg.Embedder == nil {
		return nil, wrapErr("recall", ErrDependencyUnavailable)
	}
	qvec, err := m.cfg.Embedder.Embed(query)
	if err != nil {
		return nil, wrapErr("recall", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err))
	}
	return m.recallLocked(query, qvec, opts, false)
}

// RecallPrimed runs the same pipeline as Recall but as the `_primed`
// variant spec §4.5 names: its priming boosts draw on the live
// `active_intentions`/`goal_basin` session state (set via
// SetActiveIntentions/SetGoalBasin), and, per stage 9(c), its own
// results are the only ones folded into `recent_observations` once
// returned.
func (m *Mind) RecallPrimed(query string, opts RecallOptions) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.K <= 0 {
		opts.K = 10
	}
	if m.cfg.Embedder == nil {
		return nil, wrapErr("recall_primed", ErrDependencyUnavailable)
	}
	qvec, err := m.cfg.Embedder.Embed(query)
	if err != nil {
		return nil, wrapErr("recall_primed", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err))
	}
	return m.recallLocked(query, qvec, opts, true)
}

// SetActiveIntentions replaces the session's `active_intentions` set,
// one of the three priming signals stage 5 blends into relevance
// scoring when EnableSessionPriming is on.
func (m *Mind) SetActiveIntentions(ids []nodeid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeIntentions = append([]nodeid.ID(nil), ids...)
}

// SetGoalBasin replaces the session's `goal_basin` set, the third of
// stage 5's priming signals.
func (m *Mind) SetGoalBasin(ids []nodeid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goalBasin = append([]nodeid.ID(nil), ids...)
}

// RecallByTag restricts candidate generation to the tag index, skipping
// dense/sparse fusion entirely (spec §4.5's tags-only routing branch).
func (m *Mind) RecallByTag(opts RecallOptions) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if opts.K <= 0 {
		opts.K = 10
	}
	var slots []nodeid.SlotId
	if opts.RequireTags {
		slots = m.tags.FindAll(opts.Tags)
	} else {
		slots = m.tags.FindAny(opts.Tags)
	}
	cands := make([]candidate, 0, len(slots))
	for _, s := range slots {
		n, ok := m.index.Get(s)
		if !ok {
			continue
		}
		cands = append(cands, candidate{slot: s, node: n})
	}
	return m.finishRecallLocked(cands, opts, nil, false)
}

func (m *Mind) recallLocked(query string, qvec []float32, opts RecallOptions, primed bool) ([]Result, error) {
	oversample := opts.K * 4
	if oversample < 40 {
		oversample = 40
	}

	var denseHits []struct {
		slot  nodeid.SlotId
		score float32
	}
	var sparseHits []struct {
		slot  nodeid.SlotId
		score float64
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		for _, r := range m.ann.Search(qvec, oversample) {
			denseHits = append(denseHits, struct {
				slot  nodeid.SlotId
				score float32
			}{r.Slot, r.Score})
		}
		return nil
	})
	g.Go(func() error {
		if m.bm25.Enabled() {
			for _, r := range m.bm25.Search(query, oversample) {
				sparseHits = append(sparseHits, struct {
					slot  nodeid.SlotId
					score float64
				}{r.Slot, r.Score})
			}
		}
		return nil
	})
	_ = g.Wait() // both goroutines are infallible; error path unused

	rrf := fuseRRF(denseHits, sparseHits)

	cands := make([]candidate, 0, len(rrf))
	for slot, score := range rrf {
		n, ok := m.index.Get(slot)
		if !ok {
			continue
		}
		cands = append(cands, candidate{slot: slot, node: n, rrf: score, cosine: float64(quantCosine(qvec, n.Embedding))})
	}
	return m.finishRecallLocked(cands, opts, qvec, primed)
}

func quantCosine(a, b []float32) float32 {
	var dot float32
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += a[i] * b[i]
	}
	return dot
}

func fuseRRF(dense []struct {
	slot  nodeid.SlotId
	score float32
}, sparse []struct {
	slot  nodeid.SlotId
	score float64
}) map[nodeid.SlotId]float64 {
	out := make(map[nodeid.SlotId]float64)
	for rank, h := range dense {
		out[h.slot] += denseWeight * (1.0 / (rrfC + float64(rank+1)))
	}
	for rank, h := range sparse {
		out[h.slot] += sparseWeight * (1.0 / (rrfC + float64(rank+1)))
	}
	return out
}

func (m *Mind) finishRecallLocked(cands []candidate, opts RecallOptions, qvec []float32, primed bool) ([]Result, error) {
	cands = m.filterRealmLocked(cands, opts.Realm)
	cands = filterTypes(cands, opts.Types)

	now := nowMs()
	scored := make([]Result, 0, len(cands))
	for _, c := range cands {
		conf := Confidence{Mu: float64(c.node.ConfMu), Sigma2: float64(c.node.ConfSigma2), N: float64(c.node.ConfN)}
		rel := m.relevanceLocked(c, conf, now)
		scored = append(scored, Result{
			ID:         c.node.ID,
			Similarity: c.cosine,
			Relevance:  rel,
			Epsilon:    float64(c.node.Epsilon),
			Type:       NodeType(c.node.Type),
			Confidence: conf,
			Created:    c.node.Created,
			Accessed:   c.node.Accessed,
			Payload:    c.node.Payload,
			Text:       string(c.node.Payload),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })
	scored = m.lateralInhibition(scored, qvec)

	if m.cfg.EnableAttractorDampener {
		dres := make([]dampener.ScoredResult, len(scored))
		for i, r := range scored {
			dres[i] = dampener.ScoredResult{ID: r.ID, Score: r.Relevance}
		}
		m.dampenerStore.Dampen(dres, now)
		for i := range scored {
			scored[i].Relevance = dres[i].Score
		}
		sort.Slice(scored, func(i, j int) bool { return scored[i].Relevance > scored[j].Relevance })
	}

	if len(scored) > opts.K {
		scored = scored[:opts.K]
	}

	m.applyRecallSideEffectsLocked(scored, now, primed)

	ids := make([]nodeid.ID, len(scored))
	for i, r := range scored {
		ids[i] = r.ID
	}
	annotations := m.contradictions.Annotate(ids)
	for i, a := range annotations {
		if i >= len(scored) {
			break
		}
		scored[i].HasConflict = a.HasConflict
		scored[i].ConflictingIDs = a.ConflictingIDs
	}

	return scored, nil
}

func (m *Mind) filterRealmLocked(cands []candidate, realmOverride string) []candidate {
	if !m.cfg.EnableRealmScoping {
		return cands
	}
	viewer := realmOverride
	if viewer == "" {
		viewer = m.realms.Current()
	}
	out := cands[:0]
	for _, c := range cands {
		nodeRealm := m.nodeRealmLocked(c.slot)
		if nodeRealm == "" || m.realms.VisibleFrom(viewer, nodeRealm, realm.Inherited) || viewer == nodeRealm {
			out = append(out, c)
		}
	}
	return out
}

func (m *Mind) nodeRealmLocked(slot nodeid.SlotId) string {
	for _, t := range m.tagsBySlot[slot] {
		if len(t) > 6 && t[:6] == "realm:" {
			return t[6:]
		}
	}
	return ""
}

func filterTypes(cands []candidate, types []NodeType) []candidate {
	if len(types) == 0 {
		return cands
	}
	allowed := make(map[NodeType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	out := cands[:0]
	for _, c := range cands {
		if allowed[NodeType(c.node.Type)] {
			out = append(out, c)
		}
	}
	return out
}

func (m *Mind) relevanceLocked(c candidate, conf Confidence, now int64) float64 {
	ageMs := float64(now - c.node.Accessed)
	if ageMs < 0 {
		ageMs = 0
	}
	recency := math.Exp(-ageMs / (7 * 24 * 60 * 60 * 1000))

	typeWeight := NodeType(c.node.Type).retrievalWeight()

	priming := 0.0
	if m.cfg.EnableSessionPriming {
		priming = m.primingBoostLocked(c)
	}

	cosine := c.cosine
	if c.rrf > 0 && cosine == 0 {
		cosine = c.rrf
	}

	return weightCosine*cosine + weightConf*conf.Effective() + weightRecency*recency + weightType*typeWeight + weightPriming*priming
}

// primingBoostLocked sums spec §4.5 stage 5's three additive priming
// signals — membership in recent_observations, active_intentions, and
// goal_basin — each contributing up to a third of weightPriming so the
// three together saturate at 1.0 (i.e. the full weightPriming weight).
func (m *Mind) primingBoostLocked(c candidate) float64 {
	const per = 1.0 / 3.0
	boost := 0.0
	if containsID(m.recentObservations, c.node.ID) {
		boost += per
	}
	if containsID(m.activeIntentions, c.node.ID) {
		boost += per
	}
	if containsID(m.goalBasin, c.node.ID) {
		boost += per
	}
	return boost
}

func containsID(ids []nodeid.ID, target nodeid.ID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// lateralInhibition suppresses near-duplicate results that sit too close
// (cosine >= inhibitionTheta) to an already-kept, higher-ranked result,
// scaling their relevance down by inhibitionAlpha instead of dropping them
// outright (spec §4.5 stage 6).
func (m *Mind) lateralInhibition(scored []Result, qvec []float32) []Result {
	kept := make([]Result, 0, len(scored))
	for _, r := range scored {
		suppressed := false
		for _, k := range kept {
			if sim := m.pairwiseCosineLocked(r.ID, k.ID); sim >= inhibitionTheta {
				suppressed = true
				break
			}
		}
		if suppressed {
			r.Relevance *= (1 - inhibitionAlpha)
		}
		kept = append(kept, r)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Relevance > kept[j].Relevance })
	return kept
}

func (m *Mind) pairwiseCosineLocked(a, b nodeid.ID) float64 {
	sa, ok := m.index.Lookup(a)
	if !ok {
		return 0
	}
	sb, ok := m.index.Lookup(b)
	if !ok {
		return 0
	}
	na, ok := m.index.Get(sa)
	if !ok {
		return 0
	}
	nb, ok := m.index.Get(sb)
	if !ok {
		return 0
	}
	return float64(quantCosine(na.Embedding, nb.Embedding))
}

// applyRecallSideEffectsLocked records utility/dampener hits, strengthens
// the top Hebbian pairs, and notifies the gap/synthesis queues, matching
// spec §4.5 stage 9.
func (m *Mind) applyRecallSideEffectsLocked(results []Result, now int64, primed bool) {
	for _, r := range results {
		if m.cfg.EnableUtilityDecay {
			m.utilityTracker.RecordRecall(r.ID, r.Relevance, now)
		}
		if m.cfg.EnableAttractorDampener {
			m.dampenerStore.RecordRetrieval(r.ID, now)
		}
		_ = m.index.Touch(m.slotOrZero(r.ID), now)
	}

	top := results
	n := hebbianTopN
	if opts := len(top); opts < n {
		n = opts
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.hebbianStrengthenLocked(top[i].ID, top[j].ID, hebbianDelta)
		}
	}

	// Stage 9(c): only the _primed variants fold their results into
	// recent_observations; plain recall/recall_by_tag leave it untouched.
	if primed {
		m.recentObservations = appendCapped(m.recentObservations, idsOf(results), 50)
	}
}

func (m *Mind) slotOrZero(id nodeid.ID) nodeid.SlotId {
	slot, ok := m.index.Lookup(id)
	if !ok {
		return nodeid.Invalid
	}
	return slot
}

func idsOf(results []Result) []nodeid.ID {
	ids := make([]nodeid.ID, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func appendCapped(existing []nodeid.ID, fresh []nodeid.ID, cap int) []nodeid.ID {
	out := append(existing, fresh...)
	if len(out) > cap {
		out = out[len(out)-cap:]
	}
	return out
}

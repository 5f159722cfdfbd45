package mind

import (
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// TestRecallPrimedUpdatesRecentObservationsOnly checks spec §4.5 stage
// 9(c): only the _primed variant folds its results into
// recent_observations, and that membership then feeds back into a later
// call's priming boost.
func TestRecallPrimedUpdatesRecentObservationsOnly(t *testing.T) {
	m := openTestMind(t)

	id, err := m.Remember("a quiet afternoon by the lake", RememberOptions{Type: TypeEpisode})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	if _, err := m.Recall("a quiet afternoon by the lake", RecallOptions{K: 5}); err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if containsID(m.recentObservations, id) {
		t.Fatal("plain Recall() populated recentObservations; want it untouched")
	}

	if _, err := m.RecallPrimed("a quiet afternoon by the lake", RecallOptions{K: 5}); err != nil {
		t.Fatalf("RecallPrimed() error = %v", err)
	}
	if !containsID(m.recentObservations, id) {
		t.Fatal("RecallPrimed() did not add its result to recentObservations")
	}
}

// TestSetActiveIntentionsBoostsRelevance checks that active_intentions
// membership feeds spec §4.5 stage 5's additive priming boost.
func TestSetActiveIntentionsBoostsRelevance(t *testing.T) {
	m := openTestMind(t)
	// The first recall counts as a retrieval; keep the dampener from
	// scaling the second recall so only the priming signal differs.
	m.cfg.EnableAttractorDampener = false

	id, err := m.Remember("a plan to visit the archive", RememberOptions{Type: TypeIntention})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	before, err := m.RecallPrimed("a plan to visit the archive", RecallOptions{K: 5})
	if err != nil {
		t.Fatalf("RecallPrimed() error = %v", err)
	}
	var beforeRel float64
	for _, r := range before {
		if r.ID == id {
			beforeRel = r.Relevance
		}
	}

	m.SetActiveIntentions([]nodeid.ID{id})

	after, err := m.RecallPrimed("a plan to visit the archive", RecallOptions{K: 5})
	if err != nil {
		t.Fatalf("RecallPrimed() error = %v", err)
	}
	var afterRel float64
	for _, r := range after {
		if r.ID == id {
			afterRel = r.Relevance
		}
	}

	if afterRel <= beforeRel {
		t.Errorf("relevance after SetActiveIntentions = %v, want > %v (before)", afterRel, beforeRel)
	}
}

package mind

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

const testDim = 8

// fakeEmbedder deterministically hashes text into a unit vector so tests
// don't need a real model: same text always yields the same vector, and
// distinct texts are very likely to land far apart.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, testDim)
	h := uint32(2166136261)
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		vec[i%testDim] += float32(h%1000) / 1000
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		norm = 1
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func openTestMind(t *testing.T) *Mind {
	t.Helper()
	dir := t.TempDir()
	cfg := New(
		WithPath(filepath.Join(dir, "test")),
		WithDimension(testDim),
		WithEmbedder(fakeEmbedder{}),
	)
	m, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestRememberAndRecall(t *testing.T) {
	m := openTestMind(t)

	id, err := m.Remember("the cat sat on the mat", RememberOptions{Type: TypeWisdom})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if id.IsNil() {
		t.Fatal("Remember() returned nil id")
	}

	results, err := m.Recall("the cat sat on the mat", RecallOptions{K: 5})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("Recall() returned no results for a just-remembered node")
	}
	found := false
	for _, r := range results {
		if r.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("Recall() did not surface the remembered node %s", id)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := openTestMind(t)
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// a second Close must be a harmless no-op
	if err := m.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestTagLifecycle(t *testing.T) {
	m := openTestMind(t)

	id, err := m.Remember("episodic memory of a morning walk", RememberOptions{Type: TypeEpisode})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}

	if err := m.AddTag(id, "outdoors"); err != nil {
		t.Fatalf("AddTag() error = %v", err)
	}
	results, err := m.RecallByTag(RecallOptions{K: 10, Tags: []string{"outdoors"}})
	if err != nil {
		t.Fatalf("RecallByTag() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("RecallByTag() = %+v, want exactly the tagged node", results)
	}

	if err := m.RemoveTag(id, "outdoors"); err != nil {
		t.Fatalf("RemoveTag() error = %v", err)
	}
	results, err = m.RecallByTag(RecallOptions{K: 10, Tags: []string{"outdoors"}})
	if err != nil {
		t.Fatalf("RecallByTag() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("RecallByTag() after RemoveTag = %+v, want empty", results)
	}
}

func TestTouchUpdatesAccessed(t *testing.T) {
	m := openTestMind(t)
	id, err := m.Remember("a node to touch", RememberOptions{})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := m.Touch(id); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
}

func TestStrengthenAndWeaken(t *testing.T) {
	m := openTestMind(t)
	id, err := m.Remember("a belief under test", RememberOptions{Confidence: 0.5})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := m.Strengthen(id, 0.3); err != nil {
		t.Fatalf("Strengthen() error = %v", err)
	}
	if err := m.Weaken(id, 0.1); err != nil {
		t.Fatalf("Weaken() error = %v", err)
	}
}

func TestRemoveNodeDropsFromRecall(t *testing.T) {
	m := openTestMind(t)
	id, err := m.Remember("ephemeral fact", RememberOptions{Tags: []string{"ephemeral"}})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := m.RemoveNode(id); err != nil {
		t.Fatalf("RemoveNode() error = %v", err)
	}
	results, err := m.RecallByTag(RecallOptions{K: 10, Tags: []string{"ephemeral"}})
	if err != nil {
		t.Fatalf("RecallByTag() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("RecallByTag() after RemoveNode = %+v, want empty", results)
	}
}

func TestMergeNodesCombinesTags(t *testing.T) {
	m := openTestMind(t)
	keeper, err := m.Remember("keeper node", RememberOptions{Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	merged, err := m.Remember("merged node", RememberOptions{Tags: []string{"b"}})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := m.MergeNodes(keeper, merged); err != nil {
		t.Fatalf("MergeNodes() error = %v", err)
	}
	results, err := m.RecallByTag(RecallOptions{K: 10, Tags: []string{"b"}})
	if err != nil {
		t.Fatalf("RecallByTag() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != keeper {
		t.Fatalf("RecallByTag(%q) after merge = %+v, want keeper only", "b", results)
	}
}

func TestHebbianUpdateCreatesEdges(t *testing.T) {
	m := openTestMind(t)
	a, _ := m.Remember("alpha", RememberOptions{})
	b, _ := m.Remember("beta", RememberOptions{})
	if err := m.HebbianUpdate([]nodeid.ID{a, b}, 0.1); err != nil {
		t.Fatalf("HebbianUpdate() error = %v", err)
	}
}

func TestFeedbackHelpfulStrengthensConfidence(t *testing.T) {
	m := openTestMind(t)
	id, _ := m.Remember("a piece of advice", RememberOptions{Confidence: 0.5})
	if err := m.FeedbackHelpful(id); err != nil {
		t.Fatalf("FeedbackHelpful() error = %v", err)
	}
	if err := m.FeedbackMisleading(id); err != nil {
		t.Fatalf("FeedbackMisleading() error = %v", err)
	}
}

func TestTickRunsWithoutError(t *testing.T) {
	m := openTestMind(t)
	for i := 0; i < 5; i++ {
		if _, err := m.Remember("episode text", RememberOptions{Type: TypeEpisode}); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}
	if _, err := m.Tick(true); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := New(
		WithPath(filepath.Join(dir, "persist")),
		WithDimension(testDim),
		WithEmbedder(fakeEmbedder{}),
	)

	m1, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	id, err := m1.Remember("durable memory", RememberOptions{Tags: []string{"persisted"}})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	m2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	defer m2.Close()

	results, err := m2.RecallByTag(RecallOptions{K: 10, Tags: []string{"persisted"}})
	if err != nil {
		t.Fatalf("RecallByTag() after reopen error = %v", err)
	}
	found := false
	for _, r := range results {
		if r.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("RecallByTag() after reopen = %+v, want the persisted node", results)
	}
}

func TestCoherenceAndHealth(t *testing.T) {
	m := openTestMind(t)
	for i := 0; i < 3; i++ {
		if _, err := m.Remember("a coherence sample", RememberOptions{}); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}
	h := m.Health()
	if h.Status == "" {
		t.Error("Health() returned an empty status")
	}
	if h.Capacity <= 0 {
		t.Errorf("Health().Capacity = %v, want > 0 with nodes present", h.Capacity)
	}
}

func TestFindAttractors(t *testing.T) {
	m := openTestMind(t)
	a, _ := m.Remember("central idea", RememberOptions{Confidence: 0.9})
	b, _ := m.Remember("related idea", RememberOptions{Confidence: 0.8})
	_ = m.HebbianUpdate([]nodeid.ID{a, b}, 0.2)

	attractors := m.FindAttractors(5)
	if len(attractors) == 0 {
		t.Fatal("FindAttractors() returned nothing")
	}
}

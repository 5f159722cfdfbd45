package bm25

import "testing"

func TestSearchRanksMatchingDocHigher(t *testing.T) {
	idx := New(DefaultConfig())
	idx.Add(1, "the cat sat on the mat")
	idx.Add(2, "dogs are loyal companions")
	idx.Add(3, "cats and dogs can be friends")

	results := idx.Search("cat", 3)
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Slot != 1 {
		t.Fatalf("expected slot 1 to rank first for query 'cat', got %+v", results)
	}
}

func TestRemoveDropsDocFromResults(t *testing.T) {
	idx := New(DefaultConfig())
	idx.Add(1, "quantum entanglement physics")
	idx.Add(2, "classical mechanics physics")

	idx.Remove(1)
	if idx.Size() != 1 {
		t.Fatalf("Size = %d, want 1", idx.Size())
	}
	results := idx.Search("quantum", 5)
	for _, r := range results {
		if r.Slot == 1 {
			t.Fatalf("removed slot 1 should not appear: %+v", results)
		}
	}
}

func TestAddIsNoOpAboveCeiling(t *testing.T) {
	idx := New(Config{K1: 1.2, B: 0.75, MaxDocs: 1})
	idx.Add(1, "first document")
	if idx.Enabled() {
		t.Fatal("expected index to report disabled at its ceiling")
	}
	idx.Add(2, "second document should be rejected")
	if idx.Size() != 1 {
		t.Fatalf("Size = %d, want 1 (second Add should be a no-op)", idx.Size())
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(DefaultConfig())
	if results := idx.Search("anything", 5); results != nil {
		t.Fatalf("expected nil results from empty index, got %+v", results)
	}
}

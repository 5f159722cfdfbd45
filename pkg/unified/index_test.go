package unified

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func unitVec(vals ...float32) []float32 {
	var sumSq float64
	for _, v := range vals {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func TestInsertLookupGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.unified")
	idx, err := Open(path, 16, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	id := nodeid.New()
	vec := unitVec(0.1, 0.2, 0.3, 0.4)
	slot, err := idx.Insert(InsertNode{
		ID: id, Type: 1, Embedding: vec, Payload: []byte("hello"),
		Created: 100, Accessed: 100, ConfMu: 0.8, ConfN: 1,
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	gotSlot, ok := idx.Lookup(id)
	if !ok || gotSlot != slot {
		t.Fatalf("Lookup = %v,%v want %v,true", gotSlot, ok, slot)
	}

	n, ok := idx.Get(slot)
	if !ok {
		t.Fatal("Get returned false for freshly-inserted slot")
	}
	if n.ID != id || string(n.Payload) != "hello" {
		t.Fatalf("unexpected node: %+v", n)
	}
	if cos := cosine(vec, n.Embedding); cos < 0.99 {
		t.Fatalf("embedding round-trip cosine = %.4f, want >= 0.99", cos)
	}
}

func TestOutOfCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.unified")
	idx, err := Open(path, 1, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	vec := unitVec(1, 0, 0)
	if _, err := idx.Insert(InsertNode{ID: nodeid.New(), Embedding: vec, Created: 1, Accessed: 1}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = idx.Insert(InsertNode{ID: nodeid.New(), Embedding: vec, Created: 1, Accessed: 1})
	if err != ErrOutOfCapacity {
		t.Fatalf("second insert error = %v, want ErrOutOfCapacity", err)
	}
}

func TestRemoveThenReinsertReusesSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.unified")
	idx, err := Open(path, 1, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	vec := unitVec(1, 0, 0)
	id1 := nodeid.New()
	slot, err := idx.Insert(InsertNode{ID: id1, Embedding: vec, Created: 1, Accessed: 1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := idx.Remove(slot); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := idx.Remove(slot); err != nil {
		t.Fatalf("remove of already-dead slot should be tolerated: %v", err)
	}

	if _, ok := idx.Get(slot); ok {
		t.Fatal("Get should return false for removed slot")
	}

	id2 := nodeid.New()
	slot2, err := idx.Insert(InsertNode{ID: id2, Embedding: vec, Created: 2, Accessed: 2})
	if err != nil {
		t.Fatalf("reinsert: %v", err)
	}
	if slot2 != slot {
		t.Fatalf("expected slot reuse, got %d want %d", slot2, slot)
	}
	if idx.Generation(slot2) <= 0 {
		t.Fatal("generation should have advanced past zero")
	}
}

func TestCloseReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.unified")
	idx, err := Open(path, 8, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := nodeid.New()
	vec := unitVec(0.3, 0.1, 0.2, 0.4)
	if _, err := idx.Insert(InsertNode{ID: id, Embedding: vec, Payload: []byte("x"), Created: 5, Accessed: 5}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, 8, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	n, ok := reopened.GetByID(id)
	if !ok {
		t.Fatal("node missing after reopen")
	}
	if string(n.Payload) != "x" {
		t.Fatalf("payload mismatch after reopen: %q", n.Payload)
	}
}

func TestBruteForceSearchOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.unified")
	idx, err := Open(path, 8, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	close1 := unitVec(1, 0.01, 0)
	far := unitVec(0, 1, 0)
	closeID := nodeid.New()
	if _, err := idx.Insert(InsertNode{ID: closeID, Embedding: close1, Created: 1, Accessed: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := idx.Insert(InsertNode{ID: nodeid.New(), Embedding: far, Created: 1, Accessed: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results, err := idx.BruteForceSearch(unitVec(1, 0, 0), 2)
	if err != nil {
		t.Fatalf("BruteForceSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("results not sorted descending: %+v", results)
	}
	gotID, _ := idx.Get(results[0].Slot)
	if gotID.ID != closeID {
		t.Fatalf("expected closest vector first, got %v", gotID.ID)
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

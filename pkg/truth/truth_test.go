package truth

import (
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func TestAddAndAnnotateMarksConflict(t *testing.T) {
	s := New()
	a := nodeid.New()
	b := nodeid.New()
	c := nodeid.New()
	s.Add(a, b, "disagreement on X", 0.7)

	anns := s.Annotate([]nodeid.ID{a, b, c})
	if !anns[0].HasConflict || !anns[1].HasConflict {
		t.Fatalf("expected a and b to conflict: %+v", anns)
	}
	if anns[2].HasConflict {
		t.Fatalf("expected c to have no conflict: %+v", anns[2])
	}
	if len(anns[0].ConflictingIDs) != 1 || anns[0].ConflictingIDs[0] != b {
		t.Fatalf("expected a's conflicting ids to be [b], got %+v", anns[0].ConflictingIDs)
	}
}

func TestResolveRemovesFromUnresolvedAndAnnotate(t *testing.T) {
	s := New()
	a := nodeid.New()
	b := nodeid.New()
	resNode := nodeid.New()
	id := s.Add(a, b, "conflict", 0.5)

	if err := s.Resolve(id, a, resNode, "a wins, more recent source"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if len(s.Unresolved()) != 0 {
		t.Fatalf("expected no unresolved contradictions after resolve")
	}
	anns := s.Annotate([]nodeid.ID{a, b})
	if anns[0].HasConflict || anns[1].HasConflict {
		t.Fatalf("resolved contradiction should not annotate as conflict: %+v", anns)
	}

	c, ok := s.Get(id)
	if !ok || !c.Resolved || c.Winner != a {
		t.Fatalf("unexpected contradiction state: %+v", c)
	}
}

func TestResolveUnknownID(t *testing.T) {
	s := New()
	if err := s.Resolve(999, nodeid.New(), nodeid.New(), "x"); err == nil {
		t.Fatal("expected error resolving unknown contradiction")
	}
}

func TestRemoveNodeDropsContradictions(t *testing.T) {
	s := New()
	a := nodeid.New()
	b := nodeid.New()
	s.Add(a, b, "x", 0.5)
	s.RemoveNode(a)

	anns := s.Annotate([]nodeid.ID{b})
	if anns[0].HasConflict {
		t.Fatalf("expected conflict removed along with node a: %+v", anns[0])
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	a := nodeid.New()
	b := nodeid.New()
	winner := nodeid.New()
	resNode := nodeid.New()
	id := s.Add(a, b, "disagreement", 0.6)
	if err := s.Resolve(id, winner, resNode, "resolved by newer evidence"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	path := filepath.Join(t.TempDir(), "test.truth_maintenance")
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, ok := loaded.Get(id)
	if !ok || !c.Resolved || c.Winner != winner || c.Rationale != "disagreement" {
		t.Fatalf("unexpected loaded contradiction: %+v, ok=%v", c, ok)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.truth_maintenance"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.Unresolved()) != 0 {
		t.Fatalf("expected empty store")
	}
}

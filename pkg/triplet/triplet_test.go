package triplet

import (
	"path/filepath"
	"testing"
)

func strp(s string) *string { return &s }

func TestInsertAndQueryExactMatch(t *testing.T) {
	s := New()
	if err := s.Insert("alice", "likes", "bob", 0.9); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Insert("alice", "likes", "carol", 0.5); err != nil {
		t.Fatalf("insert: %v", err)
	}

	results := s.Query(strp("alice"), strp("likes"), nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
}

func TestQueryWildcardBySubjectOnly(t *testing.T) {
	s := New()
	s.Insert("alice", "likes", "bob", 1)
	s.Insert("alice", "dislikes", "dave", 1)
	s.Insert("eve", "likes", "bob", 1)

	results := s.Query(strp("alice"), nil, nil)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(results), results)
	}
}

func TestQueryNoMatchReturnsNil(t *testing.T) {
	s := New()
	s.Insert("alice", "likes", "bob", 1)
	if results := s.Query(strp("nobody"), nil, nil); results != nil {
		t.Fatalf("expected nil results, got %+v", results)
	}
}

func TestOpenCheckpointReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "test.graph")
	walPath := filepath.Join(dir, "test.graph.wal")

	s, err := Open(graphPath, walPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Insert("alice", "likes", "bob", 0.8); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(graphPath, walPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	results := reopened.Query(strp("alice"), strp("likes"), strp("bob"))
	if len(results) != 1 || results[0].Weight != 0.8 {
		t.Fatalf("unexpected results after reload: %+v", results)
	}
}

func TestWALReplayRecoversUncommittedInsert(t *testing.T) {
	dir := t.TempDir()
	graphPath := filepath.Join(dir, "test.graph")
	walPath := filepath.Join(dir, "test.graph.wal")

	s, err := Open(graphPath, walPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Insert("alice", "likes", "bob", 0.8); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// No Checkpoint: the .graph file stays empty, but the WAL has the
	// insert durably logged.
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(graphPath, walPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	results := reopened.Query(strp("alice"), strp("likes"), strp("bob"))
	if len(results) != 1 {
		t.Fatalf("expected WAL replay to recover the insert, got %+v", results)
	}
}

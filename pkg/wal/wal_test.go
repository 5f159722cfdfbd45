package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := nodeid.New()
	rec := Record{Kind: KindTouch, NodeID: id, Timestamp: 12345}
	if err := w.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec2 := Record{Kind: KindTagAdd, NodeID: id, Tag: "wisdom"}
	if err := w.Append(rec2); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []Record
	if err := Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("replayed %d records, want 2", len(got))
	}
	if got[0].Kind != KindTouch || got[0].NodeID != id || got[0].Timestamp != 12345 {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
	if got[1].Kind != KindTagAdd || got[1].Tag != "wisdom" {
		t.Fatalf("unexpected second record: %+v", got[1])
	}
}

func TestReplayDropsTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wal")

	w, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := nodeid.New()
	if err := w.Append(Record{Kind: KindForget, NodeID: id}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash mid-append: append a few garbage bytes that look
	// like the start of a frame header but have no complete body.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{0xFF, 0xFF, 0xFF, 0x7F, 0, 0, 0, 0, 1, 2, 3}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	var count int
	if err := Replay(path, func(Record) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if count != 1 {
		t.Fatalf("replayed %d records, want 1 (torn tail dropped)", count)
	}
}

func TestReplayMissingFileIsEmpty(t *testing.T) {
	if err := Replay(filepath.Join(t.TempDir(), "absent.wal"), func(Record) error {
		t.Fatal("apply should not be called")
		return nil
	}); err != nil {
		t.Fatalf("Replay on missing file: %v", err)
	}
}

func TestEdgeAddRoundTrip(t *testing.T) {
	src := nodeid.New()
	dst := nodeid.New()
	rec := Record{Kind: KindEdgeAdd, SourceID: src, TargetID: dst, EdgeKind: "similar", Weight: 0.42}
	body, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SourceID != src || got.TargetID != dst || got.EdgeKind != "similar" || got.Weight != 0.42 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

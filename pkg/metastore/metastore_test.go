package metastore

import (
	"encoding/binary"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	w := NewWriter("TEST")
	for _, v := range []uint32{10, 20, 30} {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, v)
		w.Put(buf)
	}
	path := filepath.Join(t.TempDir(), "test.meta")
	if err := w.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got []uint32
	err := Load(path, "TEST", func(rec []byte) error {
		got = append(got, binary.LittleEndian.Uint32(rec))
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("got %v, want [10 20 30]", got)
	}
}

func TestLoadMissingFileIsNoOp(t *testing.T) {
	called := false
	err := Load(filepath.Join(t.TempDir(), "absent.meta"), "TEST", func([]byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
	if called {
		t.Fatal("apply should not be called for a missing file")
	}
}

func TestLoadRejectsWrongMagic(t *testing.T) {
	w := NewWriter("AAAA")
	path := filepath.Join(t.TempDir(), "test.meta")
	if err := w.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := Load(path, "BBBB", func([]byte) error { return nil })
	if err == nil {
		t.Fatal("expected error for mismatched magic")
	}
}

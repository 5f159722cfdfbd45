package provenance

import (
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func TestSetSourceAndGet(t *testing.T) {
	s := New()
	id := nodeid.New()
	s.SetSource(id, "user-input", 0.8, 1000)

	rec, ok := s.Get(id)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.Source != "user-input" || rec.Trust != 0.8 || rec.FirstSeen != 1000 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestUpdateTrustClampsAndEMAs(t *testing.T) {
	s := New()
	id := nodeid.New()
	s.SetSource(id, "web", 0.5, 1000)

	if err := s.UpdateTrust(id, 1.5, 0.5, 2000); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _ := s.Get(id)
	if rec.Trust > 1 || rec.Trust < 0 {
		t.Fatalf("trust not clamped: %v", rec.Trust)
	}
	if rec.Trust <= 0.5 {
		t.Fatalf("expected trust to move toward observation, got %v", rec.Trust)
	}
}

func TestUpdateTrustUnknownNode(t *testing.T) {
	s := New()
	if err := s.UpdateTrust(nodeid.New(), 1, 0.5, 1); err == nil {
		t.Fatal("expected error for unknown node")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	id := nodeid.New()
	s.SetSource(id, "api:weather", 0.9, 500)

	path := filepath.Join(t.TempDir(), "test.provenance")
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec, ok := loaded.Get(id)
	if !ok || rec.Source != "api:weather" || rec.Trust != 0.9 {
		t.Fatalf("unexpected loaded record: %+v, ok=%v", rec, ok)
	}
}

package gap

import (
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func TestRegisterAccumulatesEncounters(t *testing.T) {
	s := New()
	id := nodeid.New()
	s.Register(id, "rust", "does this support async?", "user asked twice", 0.4)
	s.Register(id, "rust", "does this support async?", "asked again in another session", 0.6)

	rec, ok := s.Get(id)
	if !ok {
		t.Fatal("expected record")
	}
	if rec.EncounterCount != 2 {
		t.Fatalf("EncounterCount = %d, want 2", rec.EncounterCount)
	}
	if rec.Importance != 0.6 {
		t.Fatalf("Importance = %v, want max(0.4,0.6)=0.6", rec.Importance)
	}
}

func TestInquiryQueueOrdersByImportanceThenEncounters(t *testing.T) {
	s := New()
	low := nodeid.New()
	high := nodeid.New()
	tie1 := nodeid.New()
	tie2 := nodeid.New()

	s.Register(low, "t", "q1", "", 0.2)
	s.Register(high, "t", "q2", "", 0.9)
	s.Register(tie1, "t", "q3", "", 0.5)
	s.Register(tie2, "t", "q4", "", 0.5)
	s.Register(tie2, "t", "q4", "", 0.5) // second encounter bumps tie2 ahead of tie1

	queue := s.InquiryQueue(0)
	if queue[0].ID != high {
		t.Fatalf("expected highest importance first, got %+v", queue[0])
	}
	if queue[1].ID != tie2 {
		t.Fatalf("expected tie2 (more encounters) before tie1, got %+v", queue[1])
	}
	if queue[len(queue)-1].ID != low {
		t.Fatalf("expected lowest importance last, got %+v", queue[len(queue)-1])
	}
}

func TestInquiryQueueRespectsLimit(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Register(nodeid.New(), "t", "q", "", float64(i))
	}
	if got := len(s.InquiryQueue(2)); got != 2 {
		t.Fatalf("InquiryQueue(2) returned %d records, want 2", got)
	}
}

func TestRemoveDropsGap(t *testing.T) {
	s := New()
	id := nodeid.New()
	s.Register(id, "t", "q", "", 0.5)
	s.Remove(id)
	if _, ok := s.Get(id); ok {
		t.Fatal("expected gap removed")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New()
	id := nodeid.New()
	s.Register(id, "go generics", "how do constraints compose?", "seen in code review", 0.75)

	path := filepath.Join(t.TempDir(), "test.gap_inquiry")
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec, ok := loaded.Get(id)
	if !ok || rec.Topic != "go generics" || rec.Importance != 0.75 {
		t.Fatalf("unexpected loaded record: %+v, ok=%v", rec, ok)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.gap_inquiry"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(s.InquiryQueue(0)) != 0 {
		t.Fatal("expected empty store")
	}
}

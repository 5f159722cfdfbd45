package tagidx

import (
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func slotSet(slots []nodeid.SlotId) map[nodeid.SlotId]bool {
	m := make(map[nodeid.SlotId]bool, len(slots))
	for _, s := range slots {
		m[s] = true
	}
	return m
}

func TestAddFindRemove(t *testing.T) {
	idx := New()
	idx.Add("red", 1)
	idx.Add("red", 2)
	idx.Add("blue", 2)

	got := slotSet(idx.Find("red"))
	if !got[1] || !got[2] || len(got) != 2 {
		t.Fatalf("Find(red) = %v, want {1,2}", got)
	}

	idx.Remove("red", 1)
	got = slotSet(idx.Find("red"))
	if got[1] || !got[2] || len(got) != 1 {
		t.Fatalf("Find(red) after remove = %v, want {2}", got)
	}
}

func TestFindAllIntersection(t *testing.T) {
	idx := New()
	idx.Add("red", 1)
	idx.Add("red", 2)
	idx.Add("blue", 2)
	idx.Add("blue", 3)

	got := slotSet(idx.FindAll([]string{"red", "blue"}))
	if len(got) != 1 || !got[2] {
		t.Fatalf("FindAll(red,blue) = %v, want {2}", got)
	}
}

func TestFindAllMissingTagIsEmpty(t *testing.T) {
	idx := New()
	idx.Add("red", 1)
	if got := idx.FindAll([]string{"red", "nonexistent"}); got != nil {
		t.Fatalf("expected nil for missing tag, got %v", got)
	}
}

func TestRemoveSlotDropsAllTags(t *testing.T) {
	idx := New()
	idx.Add("red", 1)
	idx.Add("blue", 1)
	idx.RemoveSlot(1)

	if got := idx.Find("red"); got != nil {
		t.Fatalf("expected no slots for red after RemoveSlot, got %v", got)
	}
	if got := idx.Find("blue"); got != nil {
		t.Fatalf("expected no slots for blue after RemoveSlot, got %v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New()
	idx.Add("red", 1)
	idx.Add("red", 5)
	idx.Add("green", 5)

	path := filepath.Join(t.TempDir(), "test.tags")
	if err := idx.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := slotSet(loaded.Find("red"))
	if !got[1] || !got[5] || len(got) != 2 {
		t.Fatalf("loaded Find(red) = %v, want {1,5}", got)
	}
	if got := slotSet(loaded.Find("green")); !got[5] || len(got) != 1 {
		t.Fatalf("loaded Find(green) = %v, want {5}", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "absent.tags"))
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if len(idx.Tags()) != 0 {
		t.Fatalf("expected empty index, got tags %v", idx.Tags())
	}
}

package dampener

import (
	"path/filepath"
	"testing"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

func TestMultiplierDecreasesWithRecentHits(t *testing.T) {
	d := New(DefaultConfig())
	id := nodeid.New()

	base := d.Multiplier(id, 1000)
	if base != 1.0 {
		t.Fatalf("multiplier for untouched node = %v, want 1.0", base)
	}

	d.RecordRetrieval(id, 1000)
	d.RecordRetrieval(id, 1100)
	d.RecordRetrieval(id, 1200)

	after := d.Multiplier(id, 1300)
	if after >= base {
		t.Fatalf("expected multiplier to drop after repeated hits, got %v (was %v)", after, base)
	}
}

func TestMultiplierIgnoresEventsOutsideWindow(t *testing.T) {
	d := New(DefaultConfig())
	id := nodeid.New()

	d.RecordRetrieval(id, 0)
	future := d.cfg.WindowMs*2 + 1000
	m := d.Multiplier(id, future)
	if m != 1.0 {
		t.Fatalf("expected stale hit to be pruned, multiplier = %v", m)
	}
}

func TestDampenResortsByDampenedScore(t *testing.T) {
	d := New(DefaultConfig())
	hot := nodeid.New()
	cold := nodeid.New()

	for i := 0; i < 10; i++ {
		d.RecordRetrieval(hot, int64(i))
	}

	results := []ScoredResult{
		{ID: hot, Score: 1.0},
		{ID: cold, Score: 0.6},
	}
	d.Dampen(results, 10)

	if results[0].ID != cold {
		t.Fatalf("expected cold node to rank first after dampening, got %+v", results)
	}
}

func TestRemoveDropsHistory(t *testing.T) {
	d := New(DefaultConfig())
	id := nodeid.New()
	d.RecordRetrieval(id, 0)
	d.RecordRetrieval(id, 1)
	d.Remove(id)

	if m := d.Multiplier(id, 10); m != 1.0 {
		t.Fatalf("expected multiplier 1.0 after remove, got %v", m)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	d := New(DefaultConfig())
	id := nodeid.New()
	d.RecordRetrieval(id, 100)
	d.RecordRetrieval(id, 200)

	path := filepath.Join(t.TempDir(), "test.attractor_dampener")
	if err := d.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path, DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.recentHitsLocked(id, 200); got != 2 {
		t.Fatalf("recentHitsLocked after load = %d, want 2", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	d, err := Load(filepath.Join(t.TempDir(), "missing.attractor_dampener"), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(d.events) != 0 {
		t.Fatalf("expected empty dampener, got %d entries", len(d.events))
	}
}

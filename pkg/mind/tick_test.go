package mind

import (
	"strings"
	"testing"
)

// TestSynthesizeWisdomPromotesNearDuplicateEpisodes exercises spec §8
// scenario 5 end to end: five near-duplicate episodes collapse into one
// new wisdom node whose payload reports the occurrence count and whose
// confidence falls in [0.85, 0.95].
func TestSynthesizeWisdomPromotesNearDuplicateEpisodes(t *testing.T) {
	m := openTestMind(t)

	const text = "the morning walk felt calm and unhurried"
	const occurrences = 5
	for i := 0; i < occurrences; i++ {
		if _, err := m.Remember(text, RememberOptions{Type: TypeEpisode, Confidence: 0.8}); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}

	count, err := m.SynthesizeWisdom()
	if err != nil {
		t.Fatalf("SynthesizeWisdom() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("SynthesizeWisdom() count = %d, want 1", count)
	}

	results, err := m.Recall(text, RecallOptions{K: 20, Types: []NodeType{TypeWisdom}})
	if err != nil {
		t.Fatalf("Recall() error = %v", err)
	}

	var wisdom *Result
	for i := range results {
		if strings.HasPrefix(results[i].Text, "Pattern observed") {
			wisdom = &results[i]
			break
		}
	}
	if wisdom == nil {
		t.Fatalf("no synthesized wisdom node found among %+v", results)
	}

	wantPrefix := "Pattern observed (5 occurrences):"
	if !strings.HasPrefix(wisdom.Text, wantPrefix) {
		t.Errorf("wisdom payload = %q, want prefix %q", wisdom.Text, wantPrefix)
	}

	mu := wisdom.Confidence.Mu
	if mu < 0.85 || mu > 0.95 {
		t.Errorf("wisdom confidence = %v, want in [0.85, 0.95]", mu)
	}

	// A second call finds nothing new: the five episodes are already
	// promoted, so the cluster can't be synthesized twice.
	again, err := m.SynthesizeWisdom()
	if err != nil {
		t.Fatalf("second SynthesizeWisdom() error = %v", err)
	}
	if again != 0 {
		t.Errorf("second SynthesizeWisdom() count = %d, want 0", again)
	}
}

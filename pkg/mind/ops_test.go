package mind

import "testing"

func TestConnectAndQueryGraph(t *testing.T) {
	m := openTestMind(t)
	if err := m.Connect("chitta", EdgeKindIsA, "memory-engine", 1); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	subj := "chitta"
	triples := m.QueryGraph(&subj, nil, nil)
	if len(triples) != 1 || triples[0].Object != "memory-engine" {
		t.Fatalf("QueryGraph() = %+v, want one triplet to memory-engine", triples)
	}
}

func TestFindOrCreateEntityIsIdempotent(t *testing.T) {
	m := openTestMind(t)
	created, err := m.FindOrCreateEntity("brahman")
	if err != nil {
		t.Fatalf("FindOrCreateEntity() error = %v", err)
	}
	if !created {
		t.Error("FindOrCreateEntity() first call should report creation")
	}
	created, err = m.FindOrCreateEntity("brahman")
	if err != nil {
		t.Fatalf("FindOrCreateEntity() second call error = %v", err)
	}
	if created {
		t.Error("FindOrCreateEntity() second call should be a no-op")
	}
}

func TestRealmOps(t *testing.T) {
	m := openTestMind(t)
	if got := m.CurrentRealm(); got != "brahman" {
		t.Fatalf("CurrentRealm() = %q, want brahman", got)
	}
	if err := m.CreateRealm("work", "brahman"); err != nil {
		t.Fatalf("CreateRealm() error = %v", err)
	}
	if err := m.SetRealm("work"); err != nil {
		t.Fatalf("SetRealm() error = %v", err)
	}
	if got := m.CurrentRealm(); got != "work" {
		t.Fatalf("CurrentRealm() after SetRealm = %q, want work", got)
	}
}

func TestProvenanceOps(t *testing.T) {
	m := openTestMind(t)
	id, err := m.Remember("sourced fact", RememberOptions{})
	if err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if err := m.SetProvenanceSource(id, "api-ingest", 0.9); err != nil {
		t.Fatalf("SetProvenanceSource() error = %v", err)
	}
	rec, ok := m.GetProvenance(id)
	if !ok {
		t.Fatal("GetProvenance() found nothing after SetProvenanceSource")
	}
	if rec.Source != "api-ingest" {
		t.Errorf("GetProvenance().Source = %q, want api-ingest", rec.Source)
	}
	if err := m.UpdateProvenanceTrust(id, 1.0, 0.5); err != nil {
		t.Fatalf("UpdateProvenanceTrust() error = %v", err)
	}
}

func TestContradictionLifecycle(t *testing.T) {
	m := openTestMind(t)
	a, _ := m.Remember("the sky is blue", RememberOptions{})
	b, _ := m.Remember("the sky is green", RememberOptions{})

	id, err := m.AddContradiction(a, b, "mutually exclusive claims", 0.8)
	if err != nil {
		t.Fatalf("AddContradiction() error = %v", err)
	}
	if len(m.GetUnresolvedContradictions()) != 1 {
		t.Fatal("GetUnresolvedContradictions() expected one open contradiction")
	}
	if err := m.ResolveContradiction(id, a, a, "a is well attested"); err != nil {
		t.Fatalf("ResolveContradiction() error = %v", err)
	}
	if len(m.GetUnresolvedContradictions()) != 0 {
		t.Fatal("GetUnresolvedContradictions() expected none open after resolve")
	}
}

func TestReviewAndGapQueues(t *testing.T) {
	m := openTestMind(t)
	id, _ := m.Remember("candidate wisdom", RememberOptions{})
	m.StageWisdom(id, "synthesized from three episodes")
	if items := m.ReviewQueue(); len(items) != 1 {
		t.Fatalf("ReviewQueue() = %+v, want one staged item", items)
	}
	if err := m.ApproveReview(id, nil); err != nil {
		t.Fatalf("ApproveReview() error = %v", err)
	}

	gapID, _ := m.Remember("unanswered question placeholder", RememberOptions{Type: TypeGap})
	m.RegisterGap(gapID, "topic", "what causes X?", "observed during recall", 0.7)
	if queue := m.GetInquiryQueue(10); len(queue) != 1 {
		t.Fatalf("GetInquiryQueue() = %+v, want one gap", queue)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	m := openTestMind(t)
	if _, err := m.SaveLedger("daily-notes", "first entry"); err != nil {
		t.Fatalf("SaveLedger() error = %v", err)
	}
	result, ok, err := m.LoadLedger("daily-notes")
	if err != nil {
		t.Fatalf("LoadLedger() error = %v", err)
	}
	if !ok || result.Text != "first entry" {
		t.Fatalf("LoadLedger() = %+v, ok=%v, want first entry", result, ok)
	}
	if err := m.UpdateLedger("daily-notes", "updated entry"); err != nil {
		t.Fatalf("UpdateLedger() error = %v", err)
	}
	result, ok, err = m.LoadLedger("daily-notes")
	if err != nil || !ok || result.Text != "updated entry" {
		t.Fatalf("LoadLedger() after update = %+v, ok=%v, err=%v", result, ok, err)
	}
	names := m.ListLedgers()
	if len(names) != 1 || names[0] != "daily-notes" {
		t.Fatalf("ListLedgers() = %v, want [daily-notes]", names)
	}
}

func TestResonateSpreadsActivation(t *testing.T) {
	m := openTestMind(t)
	a, _ := m.Remember("seed concept", RememberOptions{})
	b, _ := m.Remember("connected concept", RememberOptions{})
	if err := m.AddEdge(a, b, EdgeKindRelatesTo, 0.8); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}

	activations := m.Resonate([]Result{{ID: a, Relevance: 1}}, 1.0)
	found := false
	for _, act := range activations {
		if act.ID == b {
			found = true
		}
	}
	if !found {
		t.Errorf("Resonate() = %+v, want activation to reach the connected concept", activations)
	}
}

func TestPropagateUpdatesConfidence(t *testing.T) {
	m := openTestMind(t)
	a, _ := m.Remember("source belief", RememberOptions{Confidence: 0.5})
	b, _ := m.Remember("dependent belief", RememberOptions{Confidence: 0.5})
	if err := m.AddEdge(a, b, EdgeKindSupports, 0.9); err != nil {
		t.Fatalf("AddEdge() error = %v", err)
	}
	if err := m.Propagate(a, 0.2, 0.5, 3); err != nil {
		t.Fatalf("Propagate() error = %v", err)
	}
}

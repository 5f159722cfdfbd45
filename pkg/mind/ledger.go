package mind

import "github.com/liliang-cn/chitta/pkg/nodeid"

const ledgerTag = "kind:ledger"

// SaveLedger stores name/text as a ledger-kind node tagged for later
// retrieval by ListLedgers, SPEC_FULL.md §4.16's thin wrapper over
// remember().
func (m *Mind) SaveLedger(name, text string) (nodeid.ID, error) {
	return m.Remember(text, RememberOptions{
		Type: TypeLedger,
		Tags: []string{ledgerTag, "ledger:" + name},
	})
}

// LoadLedger returns the most recently saved ledger node tagged with
// name, if any.
func (m *Mind) LoadLedger(name string) (Result, bool, error) {
	results, err := m.RecallByTag(RecallOptions{
		K:           1,
		Tags:        []string{ledgerTag, "ledger:" + name},
		RequireTags: true,
	})
	if err != nil || len(results) == 0 {
		return Result{}, false, err
	}
	return results[0], true, nil
}

// ListLedgers returns every known ledger name, derived from the
// "ledger:" tag prefix the tag index already tracks.
func (m *Mind) ListLedgers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, t := range m.tags.Tags() {
		if len(t) > 7 && t[:7] == "ledger:" {
			names = append(names, t[7:])
		}
	}
	return names
}

// UpdateLedger re-embeds and replaces the named ledger's text, a thin
// wrapper over UpdateContent.
func (m *Mind) UpdateLedger(name, text string) error {
	existing, ok, err := m.LoadLedger(name)
	if err != nil {
		return err
	}
	if !ok {
		_, err := m.SaveLedger(name, text)
		return err
	}
	return m.UpdateContent(existing.ID, text)
}

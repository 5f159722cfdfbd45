package mind

import (
	"fmt"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/truth"
)

// AddContradiction flags a and b as conflicting, returning the new
// contradiction's id.
func (m *Mind) AddContradiction(a, b nodeid.ID, rationale string, confidence float64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cfg.EnableTruthMaintenance {
		return 0, wrapErr("add_contradiction", ErrDependencyUnavailable)
	}
	return m.contradictions.Add(a, b, rationale, confidence), nil
}

// ResolveContradiction records which side won, the loser's confidence
// left untouched per spec §4.6.
func (m *Mind) ResolveContradiction(id uint64, winner, resolutionNode nodeid.ID, rationale string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.contradictions.Resolve(id, winner, resolutionNode, rationale); err != nil {
		return wrapErr("resolve_contradiction", fmt.Errorf("%w: %v", ErrNotFound, err))
	}
	return nil
}

// GetUnresolvedContradictions lists every still-open contradiction.
func (m *Mind) GetUnresolvedContradictions() []truth.Contradiction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contradictions.Unresolved()
}

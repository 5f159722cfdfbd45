package mind

import (
	"fmt"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/provenance"
)

// GetProvenance returns a node's recorded source and trust score.
func (m *Mind) GetProvenance(id nodeid.ID) (provenance.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provenanceSt.Get(id)
}

// SetProvenanceSource stamps a node's origin, overwriting any prior
// record.
func (m *Mind) SetProvenanceSource(id nodeid.ID, source string, trust float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index.Lookup(id); !ok {
		return wrapErr("set_provenance_source", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	m.provenanceSt.SetSource(id, source, trust, nowMs())
	return nil
}

// UpdateProvenanceTrust folds a new trust observation into the node's
// EMA, spec §4.12's update_provenance_trust.
func (m *Mind) UpdateProvenanceTrust(id nodeid.ID, observation, alpha float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.provenanceSt.UpdateTrust(id, observation, alpha, nowMs()); err != nil {
		return wrapErr("update_provenance_trust", fmt.Errorf("%w: %v", ErrNotFound, err))
	}
	return nil
}

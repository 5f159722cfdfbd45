package mind

import (
	"fmt"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// FeedbackHelpful records a positive feedback signal against id and
// nudges its utility tracker, spec §4.4's feedback lifecycle.
func (m *Mind) FeedbackHelpful(id nodeid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index.Lookup(id); !ok {
		return wrapErr("feedback_helpful", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	m.utilityTracker.RecordFeedback(id, true)
	return wrapErr("feedback_helpful", m.strengthenConfidenceLocked(id, 0.05))
}

// FeedbackMisleading records a negative feedback signal and weakens the
// node's confidence.
func (m *Mind) FeedbackMisleading(id nodeid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index.Lookup(id); !ok {
		return wrapErr("feedback_misleading", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	m.utilityTracker.RecordFeedback(id, false)
	return wrapErr("feedback_misleading", m.strengthenConfidenceLocked(id, -0.1))
}

// RecordOutcome folds a task-success signal (0..1) into every id's
// utility EMA, the batch outcome-recording operation spec §4.4 names.
func (m *Mind) RecordOutcome(ids []nodeid.ID, success float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.utilityTracker.RecordOutcome(id, success)
	}
}

package mind

import (
	"github.com/liliang-cn/chitta/pkg/gap"
	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/review"
)

// EnqueueForReview stages a node for human review before it's trusted,
// spec §4.15's review-queue entry point.
func (m *Mind) EnqueueForReview(id nodeid.ID, context string, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews.Enqueue(id, context, priority)
}

// StageWisdom enqueues id for review with priority 0 and rationale as its
// context. It always enqueues; synthesis does not call it.
func (m *Mind) StageWisdom(id nodeid.ID, rationale string) {
	m.EnqueueForReview(id, rationale, 0)
}

// RegisterGap records (or bumps the encounter count of) a knowledge gap.
func (m *Mind) RegisterGap(id nodeid.ID, topic, question, context string, importance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps.Register(id, topic, question, context, importance)
}

// GetInquiryQueue returns up to limit open gaps ordered by importance then
// encounter count.
func (m *Mind) GetInquiryQueue(limit int) []gap.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gaps.InquiryQueue(limit)
}

// ReviewQueue exposes the pending review items for a human-in-the-loop
// consumer.
func (m *Mind) ReviewQueue() []review.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reviews.Pending()
}

// ApproveReview marks a staged node as approved, optionally with a rating.
func (m *Mind) ApproveReview(id nodeid.ID, rating *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reviews.Approve(id, rating); err != nil {
		return wrapErr("approve_review", err)
	}
	return nil
}

// RejectReview marks a staged node as rejected.
func (m *Mind) RejectReview(id nodeid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reviews.Reject(id); err != nil {
		return wrapErr("reject_review", err)
	}
	return nil
}

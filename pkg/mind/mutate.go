package mind

import (
	"fmt"
	"time"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/quant"
	"github.com/liliang-cn/chitta/pkg/unified"
	"github.com/liliang-cn/chitta/pkg/wal"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// RememberOptions configures a remember() call.
type RememberOptions struct {
	Type       NodeType
	Confidence float64 // initial mu; defaults to 0.7 if zero
	Tags       []string
	Realm      string
}

// Remember embeds text (via the configured Embedder) and inserts it as a
// new node, matching spec §3's "Create" lifecycle step.
func (m *Mind) Remember(text string, opts RememberOptions) (nodeid.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.Embedder == nil {
		return nodeid.Nil, wrapErr("remember", ErrDependencyUnavailable)
	}
	vec, err := m.cfg.Embedder.Embed(text)
	if err != nil {
		return nodeid.Nil, wrapErr("remember", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err))
	}
	return m.rememberVectorLocked(vec, []byte(text), opts)
}

// RememberVector inserts a node from a caller-supplied embedding, the
// vector-based remember variant spec §6 names.
func (m *Mind) RememberVector(vec []float32, payload []byte, opts RememberOptions) (nodeid.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rememberVectorLocked(vec, payload, opts)
}

func (m *Mind) rememberVectorLocked(vec []float32, payload []byte, opts RememberOptions) (nodeid.ID, error) {
	if err := quant.Validate(vec, m.index.Dimension()); err != nil {
		return nodeid.Nil, wrapErr("remember", fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	if opts.Confidence == 0 {
		opts.Confidence = 0.7
	}
	if opts.Confidence < 0 || opts.Confidence > 1 {
		return nodeid.Nil, wrapErr("remember", fmt.Errorf("%w: confidence out of range", ErrInvalidArgument))
	}
	if opts.Type == 0 {
		opts.Type = TypeWisdom
	}

	if m.cfg.EnableQuotaManager {
		if err := m.enforceQuotaLocked(opts.Type); err != nil {
			return nodeid.Nil, err
		}
	}

	id := nodeid.New()
	now := nowMs()

	q, err := quant.Encode(vec)
	if err != nil {
		return nodeid.Nil, wrapErr("remember", err)
	}

	walRec := wal.Record{
		Kind:      wal.KindFullNodeInsert,
		NodeID:    id,
		NodeType:  byte(opts.Type),
		Embedding: q.Codes,
		EmbScale:  q.Scale,
		EmbOffset: q.Offset,
		Payload:   payload,
		Confidence: [3]float64{opts.Confidence, 0.1, 1},
		Tags:      opts.Tags,
		Timestamp: now,
	}
	if err := m.w.Append(walRec); err != nil {
		return nodeid.Nil, wrapErr("remember", fmt.Errorf("%w: %v", ErrIOError, err))
	}

	slot, err := m.index.Insert(unified.InsertNode{
		ID:         id,
		Type:       byte(opts.Type),
		Embedding:  vec,
		Payload:    payload,
		Created:    now,
		Accessed:   now,
		Delta:      0.02,
		Epsilon:    0,
		ConfMu:     float32(opts.Confidence),
		ConfSigma2: 0.1,
		ConfN:      1,
	})
	if err != nil {
		return nodeid.Nil, wrapErr("remember", err)
	}

	_ = m.ann.Insert(slot)
	m.bm25.Add(slot, string(payload))
	for _, tag := range opts.Tags {
		m.addTagLocked(slot, tag)
	}
	if m.cfg.EnableRealmScoping {
		realmName := realmIfEmpty(opts.Realm, m.realms.Current())
		m.addTagLocked(slot, "realm:"+realmIfEmpty(realmName, m.cfg.DefaultRealm))
	}
	if m.cfg.EnableProvenance {
		m.provenanceSt.SetSource(id, m.cfg.DefaultProvenanceSource, 0.8, now)
	}

	return id, nil
}

func realmIfEmpty(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func (m *Mind) addTagLocked(slot nodeid.SlotId, tag string) {
	m.tags.Add(tag, slot)
	for _, t := range m.tagsBySlot[slot] {
		if t == tag {
			return
		}
	}
	m.tagsBySlot[slot] = append(m.tagsBySlot[slot], tag)
}

func (m *Mind) removeTagLocked(slot nodeid.SlotId, tag string) {
	m.tags.Remove(tag, slot)
	tags := m.tagsBySlot[slot]
	for i, t := range tags {
		if t == tag {
			m.tagsBySlot[slot] = append(tags[:i], tags[i+1:]...)
			return
		}
	}
}

// Touch updates a node's last-accessed timestamp, WAL-logged.
func (m *Mind) Touch(id nodeid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.index.Lookup(id)
	if !ok {
		return wrapErr("touch", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	now := nowMs()
	if err := m.w.Append(wal.Record{Kind: wal.KindTouch, NodeID: id, Timestamp: now}); err != nil {
		return wrapErr("touch", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	return wrapErr("touch", m.index.Touch(slot, now))
}

// strengthenConfidenceLocked folds delta into a node's confidence via a
// Bayesian observation and WAL-logs the new triple.
func (m *Mind) strengthenConfidenceLocked(id nodeid.ID, delta float64) error {
	slot, ok := m.index.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n, ok := m.index.Get(slot)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := Confidence{Mu: float64(n.ConfMu), Sigma2: float64(n.ConfSigma2), N: float64(n.ConfN)}
	target := clamp01(c.Mu + delta)
	c = c.observe(target)

	if err := m.w.Append(wal.Record{
		Kind:       wal.KindConfidenceUpdate,
		NodeID:     id,
		Confidence: [3]float64{c.Mu, c.Sigma2, c.N},
		Timestamp:  nowMs(),
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return m.index.UpdateConfidence(slot, float32(c.Mu), float32(c.Sigma2), float32(c.N))
}

// Strengthen increases a node's confidence by delta (positive).
func (m *Mind) Strengthen(id nodeid.ID, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return wrapErr("strengthen", m.strengthenConfidenceLocked(id, delta))
}

// Weaken decreases a node's confidence by delta (positive magnitude).
func (m *Mind) Weaken(id nodeid.ID, delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return wrapErr("weaken", m.strengthenConfidenceLocked(id, -delta))
}

// AddTag attaches a tag to a node, WAL-logged.
func (m *Mind) AddTag(id nodeid.ID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.index.Lookup(id)
	if !ok {
		return wrapErr("add_tag", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err := m.w.Append(wal.Record{Kind: wal.KindTagAdd, NodeID: id, Tag: tag, Timestamp: nowMs()}); err != nil {
		return wrapErr("add_tag", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	m.addTagLocked(slot, tag)
	return nil
}

// RemoveTag detaches a tag from a node, WAL-logged.
func (m *Mind) RemoveTag(id nodeid.ID, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.index.Lookup(id)
	if !ok {
		return wrapErr("remove_tag", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err := m.w.Append(wal.Record{Kind: wal.KindTagRemove, NodeID: id, Tag: tag, Timestamp: nowMs()}); err != nil {
		return wrapErr("remove_tag", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	m.removeTagLocked(slot, tag)
	return nil
}

// AddEdge adds (or strengthens, if present) an outgoing edge.
func (m *Mind) AddEdge(from, to nodeid.ID, kind string, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fromSlot, ok := m.index.Lookup(from)
	if !ok {
		return wrapErr("add_edge", fmt.Errorf("%w: source %s", ErrNotFound, from))
	}
	toSlot, ok := m.index.Lookup(to)
	if !ok {
		return wrapErr("add_edge", fmt.Errorf("%w: target %s", ErrNotFound, to))
	}
	if err := m.w.Append(wal.Record{
		Kind: wal.KindEdgeAdd, SourceID: from, TargetID: to, EdgeKind: kind, Weight: weight,
	}); err != nil {
		return wrapErr("add_edge", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	m.addEdgeLocked(fromSlot, toSlot, kind, weight)
	return nil
}

// UpdateContent re-embeds a node's text and replaces its payload,
// spec §3's "update-content (re-embeds)" mutation.
func (m *Mind) UpdateContent(id nodeid.ID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.Embedder == nil {
		return wrapErr("update_content", ErrDependencyUnavailable)
	}
	vec, err := m.cfg.Embedder.Embed(text)
	if err != nil {
		return wrapErr("update_content", fmt.Errorf("%w: %v", ErrDependencyUnavailable, err))
	}
	slot, ok := m.index.Lookup(id)
	if !ok {
		return wrapErr("update_content", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err := quant.Validate(vec, m.index.Dimension()); err != nil {
		return wrapErr("update_content", fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	payload := []byte(text)
	q, err := quant.Encode(vec)
	if err != nil {
		return wrapErr("update_content", err)
	}
	if err := m.w.Append(wal.Record{
		Kind: wal.KindFullNodeInsert, NodeID: id, Embedding: q.Codes, EmbScale: q.Scale, EmbOffset: q.Offset,
		Payload: payload, Timestamp: nowMs(),
	}); err != nil {
		return wrapErr("update_content", fmt.Errorf("%w: %v", ErrIOError, err))
	}
	if err := m.index.UpdateContent(slot, vec, payload); err != nil {
		return wrapErr("update_content", err)
	}
	m.bm25.Remove(slot)
	m.bm25.Add(slot, text)
	_ = m.ann.Delete(slot)
	_ = m.ann.Insert(slot)
	return nil
}

// UpdateNode replaces a node's confidence (mean set to confidence, σ²
// reset to 0.1, n reset to 1) and its full tag set. The node's type is
// not changed: typ is accepted but ignored.
func (m *Mind) UpdateNode(id nodeid.ID, typ NodeType, confidence float64, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.index.Lookup(id)
	if !ok {
		return wrapErr("update_node", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if confidence < 0 || confidence > 1 {
		return wrapErr("update_node", fmt.Errorf("%w: confidence out of range", ErrInvalidArgument))
	}
	if err := m.index.UpdateConfidence(slot, float32(confidence), 0.1, 1); err != nil {
		return wrapErr("update_node", err)
	}
	for _, t := range append([]string(nil), m.tagsBySlot[slot]...) {
		m.removeTagLocked(slot, t)
	}
	for _, t := range tags {
		m.addTagLocked(slot, t)
	}
	_ = typ // node kind is immutable for the slot lifetime in this implementation; callers forget+remember to change kind
	return nil
}

// RemoveNode forgets a node: the unified entry is dropped and every
// secondary structure reconciles on its own, per spec §3's "Forget" step.
func (m *Mind) RemoveNode(id nodeid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return wrapErr("remove_node", m.removeNodeLocked(id))
}

func (m *Mind) removeNodeLocked(id nodeid.ID) error {
	slot, ok := m.index.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := m.w.Append(wal.Record{Kind: wal.KindForget, NodeID: id}); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if err := m.index.Remove(slot); err != nil {
		return err
	}
	m.tags.RemoveSlot(slot)
	m.bm25.Remove(slot)
	_ = m.ann.Delete(slot)
	delete(m.edges, slot)
	delete(m.tagsBySlot, slot)
	delete(m.poolOffs, slot)
	m.utilityTracker.Remove(id)
	m.dampenerStore.Remove(id)
	m.provenanceSt.Remove(id)
	m.contradictions.RemoveNode(id)
	return nil
}

// MergeNodes folds merged's tags and edges into keeper, taking the max
// confidence of the two, then forgets merged.
func (m *Mind) MergeNodes(keeper, merged nodeid.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keeperSlot, ok := m.index.Lookup(keeper)
	if !ok {
		return wrapErr("merge_nodes", fmt.Errorf("%w: keeper %s", ErrNotFound, keeper))
	}
	mergedSlot, ok := m.index.Lookup(merged)
	if !ok {
		return wrapErr("merge_nodes", fmt.Errorf("%w: merged %s", ErrNotFound, merged))
	}

	keeperNode, _ := m.index.Get(keeperSlot)
	mergedNode, _ := m.index.Get(mergedSlot)
	if mergedNode.ConfMu > keeperNode.ConfMu {
		if err := m.index.UpdateConfidence(keeperSlot, mergedNode.ConfMu, mergedNode.ConfSigma2, mergedNode.ConfN); err != nil {
			return wrapErr("merge_nodes", err)
		}
	}
	for _, t := range m.tagsBySlot[mergedSlot] {
		m.addTagLocked(keeperSlot, t)
	}
	for _, e := range m.edges[mergedSlot] {
		m.addEdgeLocked(keeperSlot, e.Target.Slot, e.Kind, e.Weight)
	}

	if err := m.removeNodeLocked(merged); err != nil {
		return wrapErr("merge_nodes", err)
	}
	return nil
}

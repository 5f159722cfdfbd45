package mind

import (
	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/quant"
	"github.com/liliang-cn/chitta/pkg/unified"
	"github.com/liliang-cn/chitta/pkg/wal"
)

// replayWALLocked reconciles the in-memory edge adjacency and tag-by-slot
// views (neither lives inside the unified index) and re-inserts any node
// whose WAL record was never reflected in the index, covering a crash
// between WAL append and in-memory commit (spec §7).
func (m *Mind) replayWALLocked() error {
	return wal.Replay(m.w.Path(), func(rec wal.Record) error {
		switch rec.Kind {
		case wal.KindFullNodeInsert:
			if _, ok := m.index.Lookup(rec.NodeID); ok {
				return nil
			}
			q := quant.Quantized{Dim: len(rec.Embedding), Scale: rec.EmbScale, Offset: rec.EmbOffset, Codes: rec.Embedding}
			vec, err := quant.Decode(q)
			if err != nil {
				m.log.Warn("dropping unrecoverable WAL insert record", "node", rec.NodeID.String(), "err", err)
				return nil
			}
			slot, err := m.index.Insert(unified.InsertNode{
				ID:         rec.NodeID,
				Type:       rec.NodeType,
				Embedding:  vec,
				Payload:    rec.Payload,
				Created:    rec.Timestamp,
				Accessed:   rec.Timestamp,
				ConfMu:     float32(rec.Confidence[0]),
				ConfSigma2: float32(rec.Confidence[1]),
				ConfN:      float32(rec.Confidence[2]),
			})
			if err != nil {
				m.log.Warn("failed to recover WAL insert", "node", rec.NodeID.String(), "err", err)
				return nil
			}
			for _, tag := range rec.Tags {
				m.addTagLocked(slot, tag)
			}
		case wal.KindTouch:
			if slot, ok := m.index.Lookup(rec.NodeID); ok {
				_ = m.index.Touch(slot, rec.Timestamp)
			}
		case wal.KindConfidenceUpdate:
			if slot, ok := m.index.Lookup(rec.NodeID); ok {
				_ = m.index.UpdateConfidence(slot, float32(rec.Confidence[0]), float32(rec.Confidence[1]), float32(rec.Confidence[2]))
			}
		case wal.KindEdgeAdd:
			srcSlot, okS := m.index.Lookup(rec.SourceID)
			dstSlot, okD := m.index.Lookup(rec.TargetID)
			if okS && okD {
				m.addEdgeLocked(srcSlot, dstSlot, rec.EdgeKind, rec.Weight)
			}
		case wal.KindTagAdd:
			if slot, ok := m.index.Lookup(rec.NodeID); ok {
				m.addTagLocked(slot, rec.Tag)
			}
		case wal.KindTagRemove:
			if slot, ok := m.index.Lookup(rec.NodeID); ok {
				m.removeTagLocked(slot, rec.Tag)
			}
		case wal.KindForget:
			if slot, ok := m.index.Lookup(rec.NodeID); ok {
				_ = m.index.Remove(slot)
				m.tags.RemoveSlot(slot)
				delete(m.edges, slot)
				delete(m.tagsBySlot, slot)
			}
		case wal.KindTripletInsert:
			if m.triplets != nil {
				_ = m.triplets.Insert(rec.Subject, rec.Predicate, rec.Object, rec.Weight)
			}
		}
		return nil
	})
}

// addEdgeLocked records an outgoing edge in the in-memory adjacency map
// and durably appends it to the connection pool, matching spec §4.2.
func (m *Mind) addEdgeLocked(from, to nodeid.SlotId, kind string, weight float64) {
	edges := m.edges[from]
	for i, e := range edges {
		if e.Target.Slot == to && e.Kind == kind {
			if weight > e.Weight {
				edges[i].Weight = weight
			}
			m.edges[from] = edges
			m.flushEdgesLocked(from)
			return
		}
	}
	edges = append(edges, unified.ConnEdge{
		Target: nodeid.Ref{Slot: to, Gen: m.index.Generation(to)},
		Kind:   kind,
		Weight: weight,
	})
	m.edges[from] = edges
	m.flushEdgesLocked(from)
}

func (m *Mind) flushEdgesLocked(slot nodeid.SlotId) {
	if m.pool == nil {
		return
	}
	off, err := m.pool.Append(unified.ConnRecord{OwnerSlot: slot, Edges: m.edges[slot]})
	if err != nil {
		m.log.Warn("failed to append connection record", "slot", slot, "err", err)
		return
	}
	m.poolOffs[slot] = off
}

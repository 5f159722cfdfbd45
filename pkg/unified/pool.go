package unified

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// ConnEdge is one outgoing adjacency entry: a target slot/generation pair,
// an edge kind, and a weight. Edges are addressed by slot rather than by
// NodeId, giving arena+index semantics (spec §9): the generation lets a
// reader detect that target_slot was reused by a different node since the
// edge was written.
type ConnEdge struct {
	Target nodeid.Ref
	Kind   string
	Weight float64
}

// ConnRecord holds every outgoing edge recorded for one slot as a single
// flat list; each edge carries its own kind.
type ConnRecord struct {
	OwnerSlot nodeid.SlotId
	Edges     []ConnEdge
}

// Pool is the variable-length connection-pool heap: append-only writes
// (each encoded record, trailer included, goes out in one WriteAt call),
// offline compaction for reclaiming dead records.
type Pool struct {
	mu   sync.Mutex
	path string
	f    *os.File
	tail int64
}

// OpenPool opens (creating if absent) the .pool file.
func OpenPool(path string) (*Pool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unified: open pool %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Pool{path: path, f: f, tail: info.Size()}, nil
}

// encode serializes a ConnRecord: [owner slot u32][edge count u32]
// {[target slot u32][target gen u32][kind len u16][kind][weight f64]}*
// followed by a trailer repeating the total byte length, so a reader can
// verify it read a complete record even if the record was the last thing
// appended before a crash.
func (r ConnRecord) encode() []byte {
	size := 4 + 4
	for _, e := range r.Edges {
		size += 4 + 4 + 2 + len(e.Kind) + 8
	}
	buf := make([]byte, size+4) // +4 for trailer length
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.OwnerSlot))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Edges)))
	off += 4
	for _, e := range r.Edges {
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.Target.Slot))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], e.Target.Gen)
		off += 4
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(e.Kind)))
		off += 2
		copy(buf[off:], e.Kind)
		off += len(e.Kind)
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(e.Weight))
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(size))
	return buf
}

func decodeConnRecord(buf []byte) (ConnRecord, error) {
	if len(buf) < 8 {
		return ConnRecord{}, fmt.Errorf("unified: pool record truncated")
	}
	off := 0
	owner := nodeid.SlotId(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	count := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	edges := make([]ConnEdge, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+10 > len(buf) {
			return ConnRecord{}, fmt.Errorf("unified: pool record truncated mid-edge")
		}
		slot := nodeid.SlotId(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		gen := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		klen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+klen+8 > len(buf) {
			return ConnRecord{}, fmt.Errorf("unified: pool record truncated mid-edge kind")
		}
		kind := string(buf[off : off+klen])
		off += klen
		weight := math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		edges = append(edges, ConnEdge{Target: nodeid.Ref{Slot: slot, Gen: gen}, Kind: kind, Weight: weight})
	}
	return ConnRecord{OwnerSlot: owner, Edges: edges}, nil
}

// Append writes a new ConnRecord at the heap tail and returns its offset,
// suitable for storing in the owning slot's PoolOffset field. The trailer
// is written as part of the same buffer, then the whole buffer is written
// in one call, so a torn write never leaves a record whose trailer claims
// completeness it doesn't have.
func (p *Pool) Append(rec ConnRecord) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := rec.encode()
	off := p.tail
	if _, err := p.f.WriteAt(buf, off); err != nil {
		return 0, fmt.Errorf("unified: pool append: %w", err)
	}
	p.tail += int64(len(buf))
	return uint64(off), nil
}

// Read reads the ConnRecord at the given offset.
func (p *Pool) Read(offset uint64) (ConnRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Read a generous prefix first to learn the record's real size from
	// its trailer without needing a second round trip for the common
	// case of a modestly-sized adjacency list.
	const prefixSize = 4096
	prefix := make([]byte, prefixSize)
	n, err := p.f.ReadAt(prefix, int64(offset))
	if err != nil && n == 0 {
		return ConnRecord{}, fmt.Errorf("unified: pool read: %w", err)
	}
	prefix = prefix[:n]
	if n < 8 {
		return ConnRecord{}, fmt.Errorf("unified: pool record truncated")
	}

	// Walk the buffer to find how many bytes the record actually needs;
	// if the prefix wasn't enough, re-read with the exact size.
	size, err := connRecordBodySize(prefix)
	if err != nil {
		return ConnRecord{}, err
	}
	if size+4 > len(prefix) {
		full := make([]byte, size+4)
		if _, err := p.f.ReadAt(full, int64(offset)); err != nil {
			return ConnRecord{}, fmt.Errorf("unified: pool read: %w", err)
		}
		prefix = full
	}
	return decodeConnRecord(prefix[:size])
}

// connRecordBodySize walks a ConnRecord buffer (without needing its
// trailer) to compute how many body bytes it occupies.
func connRecordBodySize(buf []byte) (int, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("unified: pool record truncated")
	}
	off := 8
	count := int(binary.LittleEndian.Uint32(buf[4:8]))
	for i := 0; i < count; i++ {
		if off+10 > len(buf) {
			return 0, fmt.Errorf("unified: pool record truncated mid-edge")
		}
		klen := int(binary.LittleEndian.Uint16(buf[off+8:]))
		off += 10 + klen + 8
	}
	return off, nil
}

// Compact rewrites the pool to a fresh file containing only the records
// reachable from liveOffsets, returning a mapping from old offset to new
// offset. Deferred reclamation (spec §4.2): removal marks records dead in
// the caller's bookkeeping; Compact is the offline pass that actually
// reclaims the space.
func (p *Pool) Compact(liveOffsets []uint64) (map[uint64]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tmpPath := p.path + ".compact"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("unified: pool compact: %w", err)
	}

	remap := make(map[uint64]uint64, len(liveOffsets))
	var tail int64
	for _, off := range liveOffsets {
		rec, err := p.readLocked(off)
		if err != nil {
			continue // a dangling/garbage offset is skipped, not fatal
		}
		buf := rec.encode()
		if _, err := tmp.WriteAt(buf, tail); err != nil {
			tmp.Close()
			return nil, err
		}
		remap[off] = uint64(tail)
		tail += int64(len(buf))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()

	if err := p.f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(p.path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	p.f = f
	p.tail = tail
	return remap, nil
}

func (p *Pool) readLocked(offset uint64) (ConnRecord, error) {
	const prefixSize = 4096
	prefix := make([]byte, prefixSize)
	n, err := p.f.ReadAt(prefix, int64(offset))
	if err != nil && n == 0 {
		return ConnRecord{}, err
	}
	prefix = prefix[:n]
	size, err := connRecordBodySize(prefix)
	if err != nil {
		return ConnRecord{}, err
	}
	if size+4 > len(prefix) {
		full := make([]byte, size+4)
		if _, err := p.f.ReadAt(full, int64(offset)); err != nil {
			return ConnRecord{}, err
		}
		prefix = full
	}
	return decodeConnRecord(prefix[:size])
}

// Close closes the backing file.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}

package unified

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"

	"github.com/liliang-cn/chitta/pkg/nodeid"
	"github.com/liliang-cn/chitta/pkg/quant"
)

// vectorRecordSize is dimension bytes of quantized codes plus the two
// float32 dequantization parameters (scale, offset).
func vectorRecordSize(dim int) int { return dim + 8 }

// Node is the fully-hydrated view of a slot returned by Get: everything a
// caller needs, vector already dequantized.
type Node struct {
	ID         nodeid.ID
	Type       byte
	Created    int64
	Accessed   int64
	Delta      float32
	Epsilon    float32
	ConfMu     float32
	ConfSigma2 float32
	ConfN      float32
	Embedding  []float32
	Payload    []byte
	Generation uint32
}

// Index is the authoritative unified index: header + slot array + vector
// array + payload heap + id map, all backed by one file on disk.
type Index struct {
	mu sync.RWMutex

	path string
	f    *os.File
	lock *flock.Flock

	header Header

	slotArrayOff  int64
	vectorArrayOff int64

	slots   []SlotRecord // in-memory mirror, index 0..SlotCapacity-1
	vecMap  mmap.MMap     // mmap'd vector array region
	idMap   map[nodeid.ID]nodeid.SlotId
	freeList []nodeid.SlotId

	dim int
}

// Open opens an existing .unified file, or creates one with the given
// initial slot capacity and dimension if it does not exist.
func Open(path string, initialCapacity, dim int) (*Index, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("unified: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("unified: %s is already open by another process", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("unified: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		_ = lock.Unlock()
		return nil, err
	}

	idx := &Index{path: path, f: f, lock: lock}
	if info.Size() == 0 {
		if err := idx.initNew(initialCapacity, dim); err != nil {
			f.Close()
			_ = lock.Unlock()
			return nil, err
		}
	} else {
		if err := idx.loadExisting(); err != nil {
			f.Close()
			_ = lock.Unlock()
			return nil, err
		}
	}
	return idx, nil
}

func (idx *Index) initNew(capacity, dim int) error {
	idx.header = Header{
		Magic:        Magic,
		Version:      FormatVersion,
		SlotCapacity: uint32(capacity),
		SlotsInUse:   0,
		Dimension:    uint32(dim),
		FreeListHead: 0,
	}
	idx.dim = dim
	idx.slotArrayOff = headerSize
	idx.vectorArrayOff = idx.slotArrayOff + int64(capacity)*slotRecordSize
	idx.header.PayloadHeapEnd = uint64(idx.vectorArrayOff) + uint64(capacity)*uint64(vectorRecordSize(dim))

	total := int64(idx.header.PayloadHeapEnd)
	if err := idx.f.Truncate(total); err != nil {
		return fmt.Errorf("unified: truncate: %w", err)
	}

	idx.slots = make([]SlotRecord, capacity)
	idx.idMap = make(map[nodeid.ID]nodeid.SlotId)
	for i := 0; i < capacity; i++ {
		idx.freeList = append(idx.freeList, nodeid.SlotId(i))
	}

	if err := idx.mmapVectors(); err != nil {
		return err
	}
	return idx.writeHeader()
}

func (idx *Index) loadExisting() error {
	hbuf := make([]byte, headerSize)
	if _, err := idx.f.ReadAt(hbuf, 0); err != nil {
		return fmt.Errorf("unified: read header: %w", err)
	}
	h, err := decodeHeader(hbuf)
	if err != nil {
		return err
	}
	idx.header = h
	idx.dim = int(h.Dimension)
	idx.slotArrayOff = headerSize
	idx.vectorArrayOff = idx.slotArrayOff + int64(h.SlotCapacity)*slotRecordSize

	if err := idx.mmapVectors(); err != nil {
		return err
	}

	idx.slots = make([]SlotRecord, h.SlotCapacity)
	idx.idMap = make(map[nodeid.ID]nodeid.SlotId, h.SlotsInUse)
	buf := make([]byte, slotRecordSize)
	for i := uint32(0); i < h.SlotCapacity; i++ {
		if _, err := idx.f.ReadAt(buf, idx.slotArrayOff+int64(i)*slotRecordSize); err != nil {
			return fmt.Errorf("unified: read slot %d: %w", i, err)
		}
		rec := decodeSlotRecord(buf)
		idx.slots[i] = rec
		if rec.InUse() && rec.Ready() && !rec.Dead() {
			idx.idMap[rec.NodeID] = nodeid.SlotId(i)
		} else {
			idx.freeList = append(idx.freeList, nodeid.SlotId(i))
		}
	}
	return nil
}

func (idx *Index) mmapVectors() error {
	size := int(idx.header.SlotCapacity) * vectorRecordSize(idx.dim)
	if size == 0 {
		return nil
	}
	m, err := mmap.MapRegion(idx.f, size, mmap.RDWR, 0, idx.vectorArrayOff)
	if err != nil {
		return fmt.Errorf("unified: mmap vector array: %w", err)
	}
	idx.vecMap = m
	return nil
}

func (idx *Index) writeHeader() error {
	_, err := idx.f.WriteAt(idx.header.encode(), 0)
	return err
}

func (idx *Index) writeSlot(slot nodeid.SlotId, rec SlotRecord) error {
	idx.slots[slot] = rec
	_, err := idx.f.WriteAt(rec.encode(), idx.slotArrayOff+int64(slot)*slotRecordSize)
	return err
}

func (idx *Index) writeVector(slot nodeid.SlotId, q quant.Quantized) error {
	recSize := vectorRecordSize(idx.dim)
	off := int(slot) * recSize
	if off+recSize > len(idx.vecMap) {
		return fmt.Errorf("unified: %w: slot %d out of vector array bounds", ErrIndexCorrupt, slot)
	}
	buf := idx.vecMap[off : off+recSize]
	copy(buf, q.Codes)
	binary.LittleEndian.PutUint32(buf[idx.dim:idx.dim+4], math.Float32bits(q.Scale))
	binary.LittleEndian.PutUint32(buf[idx.dim+4:idx.dim+8], math.Float32bits(q.Offset))
	return nil
}

func (idx *Index) readVector(slot nodeid.SlotId) (quant.Quantized, error) {
	recSize := vectorRecordSize(idx.dim)
	off := int(slot) * recSize
	if off+recSize > len(idx.vecMap) {
		return quant.Quantized{}, fmt.Errorf("unified: %w: slot %d out of vector array bounds", ErrIndexCorrupt, slot)
	}
	buf := idx.vecMap[off : off+recSize]
	codes := make([]byte, idx.dim)
	copy(codes, buf[:idx.dim])
	scale := math.Float32frombits(binary.LittleEndian.Uint32(buf[idx.dim : idx.dim+4]))
	offset := math.Float32frombits(binary.LittleEndian.Uint32(buf[idx.dim+4 : idx.dim+8]))
	return quant.Quantized{Dim: idx.dim, Scale: scale, Offset: offset, Codes: codes}, nil
}

// InsertNode is the payload accepted by Insert.
type InsertNode struct {
	ID         nodeid.ID
	Type       byte
	Embedding  []float32 // unit-norm, length == index dimension
	Payload    []byte
	Created    int64
	Accessed   int64
	Delta      float32
	Epsilon    float32
	ConfMu     float32
	ConfSigma2 float32
	ConfN      float32
}

// Insert allocates a slot (consuming the free list if non-empty), writes
// vector+metadata+payload, and updates the id map. Returns OutOfCapacity
// when no slot is available, matching spec §4.1.
func (idx *Index) Insert(n InsertNode) (nodeid.SlotId, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.freeList) == 0 {
		return nodeid.Invalid, ErrOutOfCapacity
	}
	if len(n.Embedding) != idx.dim {
		return nodeid.Invalid, fmt.Errorf("unified: embedding dim %d != index dim %d", len(n.Embedding), idx.dim)
	}

	slot := idx.freeList[len(idx.freeList)-1]
	idx.freeList = idx.freeList[:len(idx.freeList)-1]

	payloadOff, err := idx.appendPayload(n.Payload)
	if err != nil {
		return nodeid.Invalid, err
	}

	q, err := quant.Encode(n.Embedding)
	if err != nil {
		return nodeid.Invalid, fmt.Errorf("unified: quantize: %w", err)
	}
	if err := idx.writeVector(slot, q); err != nil {
		return nodeid.Invalid, err
	}

	gen := idx.slots[slot].Generation + 1
	rec := SlotRecord{
		NodeID:      n.ID,
		Type:        n.Type,
		Flags:       byte(flagInUse | flagReady),
		Generation:  gen,
		Created:     n.Created,
		Accessed:    n.Accessed,
		Delta:       n.Delta,
		Epsilon:     n.Epsilon,
		ConfMu:      n.ConfMu,
		ConfSigma2:  n.ConfSigma2,
		ConfN:       n.ConfN,
		PayloadOff:  uint64(payloadOff),
		PayloadSize: uint32(len(n.Payload)),
	}
	// mark not-ready while the write lands, then flip ready: readers skip
	// slots whose flags mark them not-ready (spec §4.1 failure semantics).
	rec.setFlag(flagReady, false)
	if err := idx.writeSlot(slot, rec); err != nil {
		return nodeid.Invalid, err
	}
	rec.setFlag(flagReady, true)
	if err := idx.writeSlot(slot, rec); err != nil {
		return nodeid.Invalid, err
	}

	idx.idMap[n.ID] = slot
	idx.header.SlotsInUse++
	if err := idx.writeHeader(); err != nil {
		return nodeid.Invalid, err
	}

	return slot, nil
}

// appendPayload writes a length-prefixed blob at the current heap tail and
// advances it, returning the blob's start offset.
func (idx *Index) appendPayload(payload []byte) (int64, error) {
	off := int64(idx.header.PayloadHeapEnd)
	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:], payload)
	if _, err := idx.f.WriteAt(frame, off); err != nil {
		return 0, fmt.Errorf("unified: append payload: %w", err)
	}
	idx.header.PayloadHeapEnd += uint64(len(frame))
	return off + 4, nil
}

func (idx *Index) readPayload(off uint64, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := idx.f.ReadAt(buf, int64(off)); err != nil {
		return nil, fmt.Errorf("unified: read payload: %w", err)
	}
	return buf, nil
}

// Lookup resolves a NodeId to its current SlotId.
func (idx *Index) Lookup(id nodeid.ID) (nodeid.SlotId, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	slot, ok := idx.idMap[id]
	return slot, ok
}

// Get hydrates the full Node for a slot. Returns false for dead,
// not-ready, or out-of-range slots — callers treat this as "skip", not an
// error, per spec §4.1 and §7 (dead slots logged and skipped).
func (idx *Index) Get(slot nodeid.SlotId) (Node, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.getLocked(slot)
}

func (idx *Index) getLocked(slot nodeid.SlotId) (Node, bool) {
	if int(slot) >= len(idx.slots) {
		return Node{}, false
	}
	rec := idx.slots[slot]
	if !rec.InUse() || !rec.Ready() || rec.Dead() {
		return Node{}, false
	}
	q, err := idx.readVector(slot)
	if err != nil {
		return Node{}, false
	}
	vec, err := quant.Decode(q)
	if err != nil {
		return Node{}, false
	}
	payload, err := idx.readPayload(rec.PayloadOff, rec.PayloadSize)
	if err != nil {
		return Node{}, false
	}
	return Node{
		ID:         rec.NodeID,
		Type:       rec.Type,
		Created:    rec.Created,
		Accessed:   rec.Accessed,
		Delta:      rec.Delta,
		Epsilon:    rec.Epsilon,
		ConfMu:     rec.ConfMu,
		ConfSigma2: rec.ConfSigma2,
		ConfN:      rec.ConfN,
		Embedding:  vec,
		Payload:    payload,
		Generation: rec.Generation,
	}, true
}

// GetByID is a convenience composing Lookup+Get.
func (idx *Index) GetByID(id nodeid.ID) (Node, bool) {
	slot, ok := idx.Lookup(id)
	if !ok {
		return Node{}, false
	}
	return idx.Get(slot)
}

// Remove marks a slot dead and returns it to the free list. Tolerant of
// already-dead slots, per spec §4.1.
func (idx *Index) Remove(slot nodeid.SlotId) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if int(slot) >= len(idx.slots) {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec := idx.slots[slot]
	if !rec.InUse() || rec.Dead() {
		return nil // tolerant of already-dead slots
	}
	delete(idx.idMap, rec.NodeID)
	rec.setFlag(flagDead, true)
	rec.setFlag(flagInUse, false)
	if err := idx.writeSlot(slot, rec); err != nil {
		return err
	}
	idx.freeList = append(idx.freeList, slot)
	if idx.header.SlotsInUse > 0 {
		idx.header.SlotsInUse--
	}
	return idx.writeHeader()
}

// TouchResult is returned by scans used for brute-force search.
type TouchResult struct {
	Slot  nodeid.SlotId
	Score float32
}

// BruteForceSearch scans every live slot and returns the k nearest by
// cosine similarity, best first, ties broken by slot id. It is the
// fallback path spec §4.1 requires when the ANN graph cannot be opened,
// and also backs small stores where building an ANN graph isn't worth it.
func (idx *Index) BruteForceSearch(query []float32, k int) ([]TouchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	qq, err := quant.Encode(query)
	if err != nil {
		return nil, err
	}
	qVec, err := quant.Decode(qq)
	if err != nil {
		return nil, err
	}

	var results []TouchResult
	for i := range idx.slots {
		rec := idx.slots[i]
		if !rec.InUse() || !rec.Ready() || rec.Dead() {
			continue
		}
		q, err := idx.readVector(nodeid.SlotId(i))
		if err != nil {
			continue // corrupted slot vector: skip, don't fail the request
		}
		vec, err := quant.Decode(q)
		if err != nil {
			continue
		}
		results = append(results, TouchResult{Slot: nodeid.SlotId(i), Score: quant.CosineFloat(qVec, vec)})
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].Slot < results[b].Slot
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Dimension returns the index's fixed embedding dimension.
func (idx *Index) Dimension() int { return idx.dim }

// SlotCapacity returns the total number of slots the file was sized for.
func (idx *Index) SlotCapacity() int { return int(idx.header.SlotCapacity) }

// SlotsInUse returns the current live slot count.
func (idx *Index) SlotsInUse() int { return int(idx.header.SlotsInUse) }

// Generation returns the current generation counter for a slot, used by
// edge readers to detect that a target slot has been reused since the
// edge was recorded.
func (idx *Index) Generation(slot nodeid.SlotId) uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if int(slot) >= len(idx.slots) {
		return 0
	}
	return idx.slots[slot].Generation
}

// ForEachSlot calls fn for every in-use, ready, non-dead slot.
func (idx *Index) ForEachSlot(fn func(nodeid.SlotId, Node) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for i := range idx.slots {
		n, ok := idx.getLocked(nodeid.SlotId(i))
		if !ok {
			continue
		}
		if !fn(nodeid.SlotId(i), n) {
			return
		}
	}
}

// Snapshot produces a read-only copy of the backing file at destPath using
// a hard link where the filesystem supports it (copy-on-write in spirit:
// both names share the same inode until either is rewritten in place,
// which this engine never does for historical snapshots), falling back to
// a full streamed copy across filesystem boundaries. Increments the
// snapshot counter.
func (idx *Index) Snapshot(destPath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.header.SnapshotCounter++
	if err := idx.writeHeader(); err != nil {
		return err
	}
	if err := idx.f.Sync(); err != nil {
		return fmt.Errorf("unified: snapshot sync: %w", err)
	}

	if err := os.Link(idx.path, destPath); err == nil {
		return nil
	}
	return idx.copyFile(destPath)
}

func (idx *Index) copyFile(destPath string) error {
	src, err := os.Open(idx.path)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// Touch updates a slot's Accessed timestamp in place.
func (idx *Index) Touch(slot nodeid.SlotId, now int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if int(slot) >= len(idx.slots) {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec := idx.slots[slot]
	if !rec.InUse() || rec.Dead() {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec.Accessed = now
	return idx.writeSlot(slot, rec)
}

// UpdateConfidence rewrites a slot's confidence triple in place.
func (idx *Index) UpdateConfidence(slot nodeid.SlotId, mu, sigma2, n float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if int(slot) >= len(idx.slots) {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec := idx.slots[slot]
	if !rec.InUse() || rec.Dead() {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec.ConfMu = mu
	rec.ConfSigma2 = sigma2
	rec.ConfN = n
	return idx.writeSlot(slot, rec)
}

// UpdateDeltaEpsilon rewrites a slot's decay rate and epiplexity score in
// place.
func (idx *Index) UpdateDeltaEpsilon(slot nodeid.SlotId, delta, epsilon float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if int(slot) >= len(idx.slots) {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec := idx.slots[slot]
	if !rec.InUse() || rec.Dead() {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec.Delta = delta
	rec.Epsilon = epsilon
	return idx.writeSlot(slot, rec)
}

// UpdateContent re-embeds and replaces a slot's payload in place: the
// quantized vector is rewritten at its fixed-size offset and the new
// payload is appended to the heap (the old bytes become unreachable
// garbage, reclaimed only on a future compaction pass, matching the
// append-only payload heap's design).
func (idx *Index) UpdateContent(slot nodeid.SlotId, embedding []float32, payload []byte) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if int(slot) >= len(idx.slots) {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	rec := idx.slots[slot]
	if !rec.InUse() || rec.Dead() {
		return fmt.Errorf("unified: %w: slot %d", ErrNotFound, slot)
	}
	if len(embedding) != idx.dim {
		return fmt.Errorf("unified: embedding dim %d != index dim %d", len(embedding), idx.dim)
	}
	q, err := quant.Encode(embedding)
	if err != nil {
		return fmt.Errorf("unified: quantize: %w", err)
	}
	if err := idx.writeVector(slot, q); err != nil {
		return err
	}
	payloadOff, err := idx.appendPayload(payload)
	if err != nil {
		return err
	}
	rec.PayloadOff = uint64(payloadOff)
	rec.PayloadSize = uint32(len(payload))
	return idx.writeSlot(slot, rec)
}

// Close flushes and unmaps the backing file.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.vecMap != nil {
		if err := idx.vecMap.Flush(); err != nil {
			return err
		}
		if err := idx.vecMap.Unmap(); err != nil {
			return err
		}
	}
	closeErr := idx.f.Close()
	if idx.lock != nil {
		if err := idx.lock.Unlock(); err != nil && closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

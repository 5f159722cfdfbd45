// Package provenance tracks where each node's content came from and how
// much the engine trusts that source.
package provenance

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .provenance file.
const Magic = "PROV"

// Record is one node's provenance entry.
type Record struct {
	Source    string
	Trust     float64 // clamped to [0,1]
	FirstSeen int64   // ms
	LastSeen  int64   // ms
}

// Store is the provenance meta-store, keyed by node id.
type Store struct {
	mu      sync.RWMutex
	records map[nodeid.ID]Record
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[nodeid.ID]Record)}
}

func clampTrust(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetSource records (or overwrites) a node's source and initial trust,
// stamping FirstSeen if this is the node's first provenance record.
func (s *Store) SetSource(id nodeid.ID, source string, trust float64, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		rec.FirstSeen = now
	}
	rec.Source = source
	rec.Trust = clampTrust(trust)
	rec.LastSeen = now
	s.records[id] = rec
}

// UpdateTrust nudges a node's trust score by an exponential moving
// average toward observation, with weight alpha in (0,1], bounded to
// [0,1].
func (s *Store) UpdateTrust(id nodeid.ID, observation, alpha float64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		return fmt.Errorf("provenance: no record for node %s", id)
	}
	rec.Trust = clampTrust(rec.Trust + alpha*(observation-rec.Trust))
	rec.LastSeen = now
	s.records[id] = rec
	return nil
}

// Get returns the provenance record for id, if any.
func (s *Store) Get(id nodeid.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Remove drops a node's provenance record (e.g. on forget/merge).
func (s *Store) Remove(id nodeid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// Save persists the store via the shared meta-store framing: one record
// per node, [id 16 bytes][source-len][source][trust f64][first i64][last i64].
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := metastore.NewWriter(Magic)
	for id, rec := range s.records {
		idb := id.Bytes()
		buf := make([]byte, 0, 16+4+len(rec.Source)+8+8+8)
		buf = append(buf, idb[:]...)
		srcLen := make([]byte, 4)
		binary.LittleEndian.PutUint32(srcLen, uint32(len(rec.Source)))
		buf = append(buf, srcLen...)
		buf = append(buf, rec.Source...)
		var tail [24]byte
		binary.LittleEndian.PutUint64(tail[0:8], math.Float64bits(rec.Trust))
		binary.LittleEndian.PutUint64(tail[8:16], uint64(rec.FirstSeen))
		binary.LittleEndian.PutUint64(tail[16:24], uint64(rec.LastSeen))
		buf = append(buf, tail[:]...)
		w.Put(buf)
	}
	return w.Save(path)
}

// Load reads a persisted store, or returns an empty store if path does
// not exist.
func Load(path string) (*Store, error) {
	s := New()
	err := metastore.Load(path, Magic, func(rec []byte) error {
		if len(rec) < 16+4 {
			return fmt.Errorf("provenance: record truncated")
		}
		var idb [16]byte
		copy(idb[:], rec[0:16])
		id := nodeid.FromBytes(idb)
		srcLen := binary.LittleEndian.Uint32(rec[16:20])
		off := 20 + int(srcLen)
		if off+24 > len(rec) {
			return fmt.Errorf("provenance: record truncated mid-tail")
		}
		source := string(rec[20:off])
		trust := math.Float64frombits(binary.LittleEndian.Uint64(rec[off : off+8]))
		firstSeen := int64(binary.LittleEndian.Uint64(rec[off+8 : off+16]))
		lastSeen := int64(binary.LittleEndian.Uint64(rec[off+16 : off+24]))
		s.records[id] = Record{Source: source, Trust: trust, FirstSeen: firstSeen, LastSeen: lastSeen}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

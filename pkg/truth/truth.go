// Package truth implements truth maintenance (spec §4.12): explicit
// contradiction records between two nodes, annotation of recall results
// with conflict flags, and resolution bookkeeping. Resolving a
// contradiction never mutates the loser's confidence here; callers
// apply that via the utility/confidence path separately.
package truth

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .truth_maintenance file.
const Magic = "TRTM"

// Contradiction is one recorded conflict between two nodes.
type Contradiction struct {
	ID             uint64
	A, B           nodeid.ID
	Rationale      string
	Confidence     float64
	Resolved       bool
	Winner         nodeid.ID
	ResolutionNode nodeid.ID
	ResolutionNote string
}

// Store holds all contradictions and an index from node to the
// contradiction ids that mention it.
type Store struct {
	mu      sync.RWMutex
	nextID  uint64
	records map[uint64]Contradiction
	byNode  map[nodeid.ID]map[uint64]bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		records: make(map[uint64]Contradiction),
		byNode:  make(map[nodeid.ID]map[uint64]bool),
	}
}

func (s *Store) indexLocked(c Contradiction) {
	for _, id := range [2]nodeid.ID{c.A, c.B} {
		m, ok := s.byNode[id]
		if !ok {
			m = make(map[uint64]bool)
			s.byNode[id] = m
		}
		m[c.ID] = true
	}
}

// Add records a new unresolved contradiction between a and b.
func (s *Store) Add(a, b nodeid.ID, rationale string, confidence float64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := Contradiction{ID: s.nextID, A: a, B: b, Rationale: rationale, Confidence: confidence}
	s.records[c.ID] = c
	s.indexLocked(c)
	return c.ID
}

// Resolve marks a contradiction resolved in favor of winner, recording
// the resolution node and rationale. It does not touch either node's
// confidence.
func (s *Store) Resolve(id uint64, winner, resolutionNode nodeid.ID, rationale string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return fmt.Errorf("truth: no contradiction %d", id)
	}
	c.Resolved = true
	c.Winner = winner
	c.ResolutionNode = resolutionNode
	c.ResolutionNote = rationale
	s.records[id] = c
	return nil
}

// Unresolved returns every contradiction not yet resolved.
func (s *Store) Unresolved() []Contradiction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Contradiction
	for _, c := range s.records {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// Get returns a single contradiction by id.
func (s *Store) Get(id uint64) (Contradiction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[id]
	return c, ok
}

// Annotation is the conflict metadata attached to one recall result.
type Annotation struct {
	HasConflict    bool
	ConflictingIDs []nodeid.ID
}

// Annotate cross-references ids against unresolved contradictions and
// returns, for each input id in order, its conflict annotation.
func (s *Store) Annotate(ids []nodeid.ID) []Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Annotation, len(ids))
	for i, id := range ids {
		cids := s.byNode[id]
		var conflicts []nodeid.ID
		for cid := range cids {
			c := s.records[cid]
			if c.Resolved {
				continue
			}
			other := c.B
			if c.A != id {
				other = c.A
			}
			conflicts = append(conflicts, other)
		}
		out[i] = Annotation{HasConflict: len(conflicts) > 0, ConflictingIDs: conflicts}
	}
	return out
}

// RemoveNode drops all contradictions (resolved or not) mentioning id,
// on forget/merge.
func (s *Store) RemoveNode(id nodeid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cid := range s.byNode[id] {
		c := s.records[cid]
		delete(s.records, cid)
		other := c.B
		if c.A != id {
			other = c.A
		}
		delete(s.byNode[other], cid)
	}
	delete(s.byNode, id)
}

// Save persists the store via the shared meta-store framing.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := metastore.NewWriter(Magic)
	for _, c := range s.records {
		buf := encodeContradiction(c)
		w.Put(buf)
	}
	return w.Save(path)
}

func encodeContradiction(c Contradiction) []byte {
	aBytes := c.A.Bytes()
	bBytes := c.B.Bytes()
	winnerBytes := c.Winner.Bytes()
	resBytes := c.ResolutionNode.Bytes()

	buf := make([]byte, 0, 8+16+16+4+len(c.Rationale)+8+1+16+16+4+len(c.ResolutionNote))
	idb := make([]byte, 8)
	binary.LittleEndian.PutUint64(idb, c.ID)
	buf = append(buf, idb...)
	buf = append(buf, aBytes[:]...)
	buf = append(buf, bBytes[:]...)

	rl := make([]byte, 4)
	binary.LittleEndian.PutUint32(rl, uint32(len(c.Rationale)))
	buf = append(buf, rl...)
	buf = append(buf, c.Rationale...)

	confBits := make([]byte, 8)
	binary.LittleEndian.PutUint64(confBits, math.Float64bits(c.Confidence))
	buf = append(buf, confBits...)

	resolvedByte := byte(0)
	if c.Resolved {
		resolvedByte = 1
	}
	buf = append(buf, resolvedByte)
	buf = append(buf, winnerBytes[:]...)
	buf = append(buf, resBytes[:]...)

	nl := make([]byte, 4)
	binary.LittleEndian.PutUint32(nl, uint32(len(c.ResolutionNote)))
	buf = append(buf, nl...)
	buf = append(buf, c.ResolutionNote...)
	return buf
}

func decodeContradiction(rec []byte) (Contradiction, error) {
	if len(rec) < 8+16+16+4 {
		return Contradiction{}, fmt.Errorf("truth: record truncated")
	}
	var c Contradiction
	c.ID = binary.LittleEndian.Uint64(rec[0:8])

	var ab, bb [16]byte
	copy(ab[:], rec[8:24])
	copy(bb[:], rec[24:40])
	c.A = nodeid.FromBytes(ab)
	c.B = nodeid.FromBytes(bb)

	rl := binary.LittleEndian.Uint32(rec[40:44])
	off := 44 + int(rl)
	if off+8+1+16+16+4 > len(rec) {
		return Contradiction{}, fmt.Errorf("truth: record truncated mid-body")
	}
	c.Rationale = string(rec[44:off])
	c.Confidence = math.Float64frombits(binary.LittleEndian.Uint64(rec[off : off+8]))
	off += 8
	c.Resolved = rec[off] != 0
	off++

	var wb, rb [16]byte
	copy(wb[:], rec[off:off+16])
	off += 16
	copy(rb[:], rec[off:off+16])
	off += 16
	c.Winner = nodeid.FromBytes(wb)
	c.ResolutionNode = nodeid.FromBytes(rb)

	if off+4 > len(rec) {
		return Contradiction{}, fmt.Errorf("truth: record truncated before note")
	}
	nl := binary.LittleEndian.Uint32(rec[off : off+4])
	off += 4
	if off+int(nl) > len(rec) {
		return Contradiction{}, fmt.Errorf("truth: record truncated at note")
	}
	c.ResolutionNote = string(rec[off : off+int(nl)])
	return c, nil
}

// Load reads a persisted store, or returns an empty store if path does
// not exist.
func Load(path string) (*Store, error) {
	s := New()
	err := metastore.Load(path, Magic, func(rec []byte) error {
		c, err := decodeContradiction(rec)
		if err != nil {
			return err
		}
		s.records[c.ID] = c
		s.indexLocked(c)
		if c.ID > s.nextID {
			s.nextID = c.ID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

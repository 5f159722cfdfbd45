// Package triplet implements the dictionary-encoded subject/predicate/
// object relational store: a compact integer triple store with a
// recent-edits WAL, supporting wildcard queries over any of the three
// positions.
package triplet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/liliang-cn/chitta/pkg/wal"
)

// Magic identifies a .graph file.
const Magic uint32 = 0x47525048 // "GRPH"

// Triplet is one fully-resolved (subject, predicate, object, weight)
// fact, as returned by queries.
type Triplet struct {
	Subject   string
	Predicate string
	Object    string
	Weight    float64
}

type encodedTriplet struct {
	s, p, o uint32
	weight  float64
}

// Store is the in-memory triplet index plus its durable backing.
type Store struct {
	mu sync.RWMutex

	graphPath string
	walPath   string
	w         *wal.WAL

	dict    map[string]uint32
	reverse []string

	triples []encodedTriplet
	// posIndex[0] indexes by subject id, [1] by predicate id, [2] by
	// object id, each to a list of indices into triples — exact-match
	// wildcard queries walk only the relevant position's postings.
	posIndex [3]map[uint32][]int
}

// New creates an empty, unbacked store (no persistence); used by tests
// and as the literal zero-state before Open populates it.
func New() *Store {
	return &Store{
		dict:     make(map[string]uint32),
		posIndex: [3]map[uint32][]int{make(map[uint32][]int), make(map[uint32][]int), make(map[uint32][]int)},
	}
}

// Open loads graphPath (if present) then replays walPath on top of it,
// matching the engine-wide pattern of "last checkpoint plus WAL replay."
func Open(graphPath, walPath string) (*Store, error) {
	s := New()
	s.graphPath = graphPath
	s.walPath = walPath

	if err := s.loadGraph(graphPath); err != nil {
		return nil, err
	}

	w, err := wal.Open(walPath)
	if err != nil {
		return nil, fmt.Errorf("triplet: open wal: %w", err)
	}
	s.w = w

	if err := wal.Replay(walPath, func(rec wal.Record) error {
		if rec.Kind != wal.KindTripletInsert {
			return nil
		}
		return s.insertLocked(rec.Subject, rec.Predicate, rec.Object, rec.Weight, false)
	}); err != nil {
		return nil, fmt.Errorf("triplet: replay wal: %w", err)
	}

	return s, nil
}

func (s *Store) internLocked(term string) uint32 {
	if id, ok := s.dict[term]; ok {
		return id
	}
	id := uint32(len(s.reverse))
	s.dict[term] = id
	s.reverse = append(s.reverse, term)
	return id
}

// Insert records a new (subject, predicate, object, weight) fact,
// logging it to the WAL before it is reflected in queries only insofar
// as the in-memory structures and the WAL are updated together under
// the same lock — a crash between them cannot happen.
func (s *Store) Insert(subject, predicate, object string, weight float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(subject, predicate, object, weight, true)
}

func (s *Store) insertLocked(subject, predicate, object string, weight float64, logWAL bool) error {
	if logWAL && s.w != nil {
		rec := wal.Record{Kind: wal.KindTripletInsert, Subject: subject, Predicate: predicate, Object: object, Weight: weight}
		if err := s.w.Append(rec); err != nil {
			return fmt.Errorf("triplet: wal append: %w", err)
		}
	}

	sid := s.internLocked(subject)
	pid := s.internLocked(predicate)
	oid := s.internLocked(object)

	idx := len(s.triples)
	s.triples = append(s.triples, encodedTriplet{s: sid, p: pid, o: oid, weight: weight})
	s.posIndex[0][sid] = append(s.posIndex[0][sid], idx)
	s.posIndex[1][pid] = append(s.posIndex[1][pid], idx)
	s.posIndex[2][oid] = append(s.posIndex[2][oid], idx)
	return nil
}

// Query performs a wildcard lookup: any of subject, predicate, object may
// be nil to mean "any value at this position." At least one must be
// non-nil or the scan degenerates to a full table scan (still supported,
// just not the fast path).
func (s *Store) Query(subject, predicate, object *string) []Triplet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidateIndicesLocked(subject, predicate, object)
	var sid, pid, oid uint32
	var hasS, hasP, hasO bool
	if subject != nil {
		if sid, hasS = s.dict[*subject]; !hasS {
			return nil
		}
	}
	if predicate != nil {
		if pid, hasP = s.dict[*predicate]; !hasP {
			return nil
		}
	}
	if object != nil {
		if oid, hasO = s.dict[*object]; !hasO {
			return nil
		}
	}

	var results []Triplet
	for _, idx := range candidates {
		t := s.triples[idx]
		if hasS && t.s != sid {
			continue
		}
		if hasP && t.p != pid {
			continue
		}
		if hasO && t.o != oid {
			continue
		}
		results = append(results, Triplet{
			Subject:   s.reverse[t.s],
			Predicate: s.reverse[t.p],
			Object:    s.reverse[t.o],
			Weight:    t.weight,
		})
	}
	return results
}

// candidateIndicesLocked picks the cheapest posting list to scan: the
// first bound position found, or the full triple set if none is bound.
func (s *Store) candidateIndicesLocked(subject, predicate, object *string) []int {
	if subject != nil {
		if id, ok := s.dict[*subject]; ok {
			return s.posIndex[0][id]
		}
		return nil
	}
	if predicate != nil {
		if id, ok := s.dict[*predicate]; ok {
			return s.posIndex[1][id]
		}
		return nil
	}
	if object != nil {
		if id, ok := s.dict[*object]; ok {
			return s.posIndex[2][id]
		}
		return nil
	}
	all := make([]int, len(s.triples))
	for i := range all {
		all[i] = i
	}
	return all
}

// Size returns the total number of triples stored.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.triples)
}

// dictChecksum is a lightweight integrity aid stored alongside the
// dictionary: a xxhash digest over the concatenation of interned terms
// in id order, checked on load to catch an obviously truncated file
// before it's trusted.
func dictChecksum(reverse []string) uint64 {
	h := xxhash.New()
	for _, term := range reverse {
		_, _ = h.Write([]byte(term))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// Checkpoint rewrites the .graph file from the current in-memory state
// and truncates the WAL, the offline compaction pass spec §4.4
// describes for the triplet store's "append-only WAL for recent edits."
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveGraphLocked(); err != nil {
		return err
	}
	if s.w != nil {
		if _, err := s.w.Rotate(1); err != nil {
			return fmt.Errorf("triplet: rotate wal after checkpoint: %w", err)
		}
	}
	return nil
}

func (s *Store) saveGraphLocked() error {
	tmp := s.graphPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("triplet: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)

	var hdr [24]byte
	binary.LittleEndian.PutUint32(hdr[0:4], Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(s.reverse)))
	binary.LittleEndian.PutUint64(hdr[8:16], dictChecksum(s.reverse))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(s.triples)))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return err
	}

	for _, term := range s.reverse {
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(term)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			f.Close()
			return err
		}
		if _, err := w.WriteString(term); err != nil {
			f.Close()
			return err
		}
	}

	for _, t := range s.triples {
		var buf [20]byte
		binary.LittleEndian.PutUint32(buf[0:4], t.s)
		binary.LittleEndian.PutUint32(buf[4:8], t.p)
		binary.LittleEndian.PutUint32(buf[8:12], t.o)
		binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(t.weight))
		if _, err := w.Write(buf[:]); err != nil {
			f.Close()
			return err
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.graphPath)
}

func (s *Store) loadGraph(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("triplet: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [24]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return fmt.Errorf("triplet: read header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != Magic {
		return fmt.Errorf("triplet: bad magic in %s", path)
	}
	dictCount := binary.LittleEndian.Uint32(hdr[4:8])
	tripleCount := binary.LittleEndian.Uint32(hdr[16:20])

	reverse := make([]string, 0, dictCount)
	for i := uint32(0); i < dictCount; i++ {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return fmt.Errorf("triplet: read term length: %w", err)
		}
		term := make([]byte, binary.LittleEndian.Uint16(lenBuf[:]))
		if _, err := io.ReadFull(r, term); err != nil {
			return fmt.Errorf("triplet: read term: %w", err)
		}
		reverse = append(reverse, string(term))
	}
	if dictChecksum(reverse) != binary.LittleEndian.Uint64(hdr[8:16]) {
		return fmt.Errorf("triplet: dictionary checksum mismatch in %s", path)
	}

	dict := make(map[string]uint32, len(reverse))
	for id, term := range reverse {
		dict[term] = uint32(id)
	}

	posIndex := [3]map[uint32][]int{make(map[uint32][]int), make(map[uint32][]int), make(map[uint32][]int)}
	triples := make([]encodedTriplet, 0, tripleCount)
	for i := uint32(0); i < tripleCount; i++ {
		var buf [20]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return fmt.Errorf("triplet: read triple %d: %w", i, err)
		}
		t := encodedTriplet{
			s:      binary.LittleEndian.Uint32(buf[0:4]),
			p:      binary.LittleEndian.Uint32(buf[4:8]),
			o:      binary.LittleEndian.Uint32(buf[8:12]),
			weight: math.Float64frombits(binary.LittleEndian.Uint64(buf[12:20])),
		}
		idx := len(triples)
		triples = append(triples, t)
		posIndex[0][t.s] = append(posIndex[0][t.s], idx)
		posIndex[1][t.p] = append(posIndex[1][t.p], idx)
		posIndex[2][t.o] = append(posIndex[2][t.o], idx)
	}

	s.dict = dict
	s.reverse = reverse
	s.triples = triples
	s.posIndex = posIndex
	return nil
}

// Close closes the companion WAL, if one was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		return s.w.Close()
	}
	return nil
}

// Package gap implements the knowledge-gap / inquiry queue (spec §6):
// open questions that accumulate encounters over time and are surfaced
// through get_inquiry_queue, ordered by importance then encounter
// count.
package gap

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/liliang-cn/chitta/pkg/metastore"
	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Magic identifies a .gap_inquiry file.
const Magic = "GAPI"

// Record is one registered knowledge gap.
type Record struct {
	ID            nodeid.ID
	Topic         string
	Question      string
	Context       string
	Importance    float64
	EncounterCount int
}

// Store holds all registered gaps, keyed by id.
type Store struct {
	mu      sync.RWMutex
	records map[nodeid.ID]Record
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[nodeid.ID]Record)}
}

// Register records a gap, or bumps its encounter count if id already
// exists (the same open question surfacing again).
func (s *Store) Register(id nodeid.ID, topic, question, context string, importance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[id]
	if !exists {
		rec = Record{ID: id, Topic: topic, Question: question, Context: context, Importance: importance}
	}
	rec.EncounterCount++
	if importance > rec.Importance {
		rec.Importance = importance
	}
	s.records[id] = rec
}

// Get returns a single gap record.
func (s *Store) Get(id nodeid.ID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Remove drops a gap, e.g. once it has been answered.
func (s *Store) Remove(id nodeid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// InquiryQueue returns up to limit gaps ordered by importance
// descending, then encounter count descending.
func (s *Store) InquiryQueue(limit int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].EncounterCount > out[j].EncounterCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Save persists the store via the shared meta-store framing.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w := metastore.NewWriter(Magic)
	for _, rec := range s.records {
		w.Put(encodeRecord(rec))
	}
	return w.Save(path)
}

func encodeRecord(rec Record) []byte {
	idb := rec.ID.Bytes()
	buf := make([]byte, 0, 16+4+len(rec.Topic)+4+len(rec.Question)+4+len(rec.Context)+8+4)
	buf = append(buf, idb[:]...)
	buf = appendLenPrefixed(buf, rec.Topic)
	buf = appendLenPrefixed(buf, rec.Question)
	buf = appendLenPrefixed(buf, rec.Context)

	var tail [12]byte
	binary.LittleEndian.PutUint64(tail[0:8], math.Float64bits(rec.Importance))
	binary.LittleEndian.PutUint32(tail[8:12], uint32(rec.EncounterCount))
	buf = append(buf, tail[:]...)
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	l := make([]byte, 4)
	binary.LittleEndian.PutUint32(l, uint32(len(s)))
	buf = append(buf, l...)
	return append(buf, s...)
}

func readLenPrefixed(rec []byte, off int) (string, int, error) {
	if off+4 > len(rec) {
		return "", 0, fmt.Errorf("gap: record truncated before length prefix")
	}
	l := int(binary.LittleEndian.Uint32(rec[off : off+4]))
	off += 4
	if off+l > len(rec) {
		return "", 0, fmt.Errorf("gap: record truncated at string body")
	}
	return string(rec[off : off+l]), off + l, nil
}

func decodeRecord(rec []byte) (Record, error) {
	if len(rec) < 16 {
		return Record{}, fmt.Errorf("gap: record truncated")
	}
	var idb [16]byte
	copy(idb[:], rec[0:16])

	off := 16
	topic, off, err := readLenPrefixed(rec, off)
	if err != nil {
		return Record{}, err
	}
	question, off, err := readLenPrefixed(rec, off)
	if err != nil {
		return Record{}, err
	}
	context, off, err := readLenPrefixed(rec, off)
	if err != nil {
		return Record{}, err
	}
	if off+12 > len(rec) {
		return Record{}, fmt.Errorf("gap: record truncated at tail")
	}
	importance := math.Float64frombits(binary.LittleEndian.Uint64(rec[off : off+8]))
	encounterCount := int(binary.LittleEndian.Uint32(rec[off+8 : off+12]))

	return Record{
		ID:             nodeid.FromBytes(idb),
		Topic:          topic,
		Question:       question,
		Context:        context,
		Importance:     importance,
		EncounterCount: encounterCount,
	}, nil
}

// Load reads a persisted store, or returns an empty store if path does
// not exist.
func Load(path string) (*Store, error) {
	s := New()
	err := metastore.Load(path, Magic, func(rec []byte) error {
		r, err := decodeRecord(rec)
		if err != nil {
			return err
		}
		s.records[r.ID] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

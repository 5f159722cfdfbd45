// Package bm25 implements an incremental BM25 sparse index over node
// payload text: the same scoring function the teacher's batch-fit
// encoder uses, reworked for per-node add/remove since a memory store's
// corpus changes one node at a time rather than arriving as a fixed
// training set.
package bm25

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// Config holds BM25's tuning parameters and the node-count ceiling above
// which the index stops accepting new documents.
type Config struct {
	K1      float64 // term-frequency saturation, default 1.2
	B       float64 // length normalization, default 0.75
	MaxDocs int     // ceiling above which Add becomes a no-op, default 1,000,000
}

// DefaultConfig matches the teacher's BM25Encoder defaults.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75, MaxDocs: 1_000_000}
}

// Index is an incrementally maintained BM25 index keyed by SlotId.
type Index struct {
	mu sync.RWMutex

	cfg Config

	docFreq    map[string]int
	postings   map[string]map[nodeid.SlotId]bool
	termFreq   map[nodeid.SlotId]map[string]int
	docLen     map[nodeid.SlotId]int
	totalDocs  int
	totalLen   int64
}

// New creates an empty index.
func New(cfg Config) *Index {
	return &Index{
		cfg:      cfg,
		docFreq:  make(map[string]int),
		postings: make(map[string]map[nodeid.SlotId]bool),
		termFreq: make(map[nodeid.SlotId]map[string]int),
		docLen:   make(map[nodeid.SlotId]int),
	}
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true,
}

// tokenize lowercases, splits on whitespace, and drops stop words and
// single-character tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.Fields(text)
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if !stopWords[w] && len(w) > 1 {
			terms = append(terms, w)
		}
	}
	return terms
}

// Enabled reports whether the index is still accepting new documents:
// it is false once the index holds Config.MaxDocs documents (default
// 1,000,000).
func (idx *Index) Enabled() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs < idx.cfg.MaxDocs
}

// Add indexes text under slot. A no-op once the index has reached its
// node-count ceiling; callers should treat the node as sparse-unindexed
// in that case rather than treating it as an error.
func (idx *Index) Add(slot nodeid.SlotId, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.totalDocs >= idx.cfg.MaxDocs {
		return
	}
	if _, exists := idx.docLen[slot]; exists {
		idx.removeLocked(slot)
	}

	terms := tokenize(text)
	freq := make(map[string]int, len(terms))
	for _, t := range terms {
		freq[t]++
	}
	for term := range freq {
		idx.docFreq[term]++
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[nodeid.SlotId]bool)
		}
		idx.postings[term][slot] = true
	}

	idx.termFreq[slot] = freq
	idx.docLen[slot] = len(terms)
	idx.totalDocs++
	idx.totalLen += int64(len(terms))
}

// Remove drops slot's contribution to the index. Tolerant of a slot that
// was never indexed (e.g. because Add hit the ceiling).
func (idx *Index) Remove(slot nodeid.SlotId) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(slot)
}

func (idx *Index) removeLocked(slot nodeid.SlotId) {
	freq, exists := idx.termFreq[slot]
	if !exists {
		return
	}
	for term := range freq {
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
		if posting := idx.postings[term]; posting != nil {
			delete(posting, slot)
			if len(posting) == 0 {
				delete(idx.postings, term)
			}
		}
	}
	idx.totalLen -= int64(idx.docLen[slot])
	delete(idx.docLen, slot)
	delete(idx.termFreq, slot)
	idx.totalDocs--
}

func (idx *Index) idf(term string) float64 {
	df := float64(idx.docFreq[term])
	n := float64(idx.totalDocs)
	if df == 0 || n == 0 {
		return 0
	}
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

func (idx *Index) avgDocLen() float64 {
	if idx.totalDocs == 0 {
		return 0
	}
	return float64(idx.totalLen) / float64(idx.totalDocs)
}

// Result is one scored hit from Search.
type Result struct {
	Slot  nodeid.SlotId
	Score float64
}

// Search scores every document sharing at least one term with query,
// returning the top k by descending BM25 score, ties broken by slot id.
func (idx *Index) Search(query string, k int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 {
		return nil
	}
	queryTerms := tokenize(query)
	avgLen := idx.avgDocLen()

	scores := make(map[nodeid.SlotId]float64)
	for _, term := range queryTerms {
		idf := idx.idf(term)
		if idf == 0 {
			continue
		}
		for slot := range idx.postings[term] {
			tf := float64(idx.termFreq[slot][term])
			docLen := float64(idx.docLen[slot])
			numerator := tf * (idx.cfg.K1 + 1)
			denominator := tf + idx.cfg.K1*(1-idx.cfg.B+idx.cfg.B*(docLen/avgLen))
			scores[slot] += idf * (numerator / denominator)
		}
	}

	results := make([]Result, 0, len(scores))
	for slot, score := range scores {
		results = append(results, Result{Slot: slot, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Slot < results[j].Slot
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Size returns the number of documents currently indexed.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

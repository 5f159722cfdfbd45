// Package ann implements the multi-layer skip-list approximate nearest
// neighbor graph that backs similarity search once a store outgrows brute
// force. It is modeled on a classic HNSW construction: per-node level
// sampling, greedy layer-by-layer descent to an entry point, and a bounded
// candidate list at each layer during both insert and search.
package ann

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/liliang-cn/chitta/pkg/nodeid"
)

// VectorSource resolves a live slot to its dequantized, unit-norm
// embedding. The graph stores no vectors itself — it defers to whatever
// holds the authoritative copy (the unified index) so a slot's vector is
// never out of sync between the two structures.
type VectorSource interface {
	Vector(slot nodeid.SlotId) ([]float32, bool)
}

type node struct {
	Slot      nodeid.SlotId
	Level     int
	Neighbors [][]nodeid.SlotId
	Deleted   bool
}

// Config holds the graph's construction parameters (spec default target:
// recall >= 0.90 @ k=10, D=384, unvalidated at runtime — a design target,
// not a guarantee this package checks).
type Config struct {
	M              int // max bidirectional links per node above layer 0
	EfConstruction int // candidate list size used while inserting
	EfSearch       int // candidate list size used while searching
}

// DefaultConfig mirrors the values the teacher's HNSW shipped with.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, EfSearch: 64}
}

// Graph is the skip-list ANN index. It addresses nodes by SlotId rather
// than by string id, since the unified index is the id authority and
// slots are stable for the node's lifetime (generation changes on reuse,
// not on every mutation).
type Graph struct {
	mu sync.RWMutex

	cfg Config
	src VectorSource

	nodes      map[nodeid.SlotId]*node
	entryPoint nodeid.SlotId
	hasEntry   bool

	rng *rand.Rand
}

// New creates an empty graph. src is consulted for every distance
// computation; the graph holds no vector data of its own.
func New(cfg Config, src VectorSource, seed int64) *Graph {
	return &Graph{
		cfg:   cfg,
		src:   src,
		nodes: make(map[nodeid.SlotId]*node),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (g *Graph) selectLevel() int {
	level := 0
	for g.rng.Float64() < 0.5 {
		level++
		if level > 16 {
			break
		}
	}
	return level
}

func (g *Graph) vector(slot nodeid.SlotId) ([]float32, bool) {
	return g.src.Vector(slot)
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	sim := dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
	return 1 - sim
}

func (g *Graph) distance(query []float32, slot nodeid.SlotId) float32 {
	vec, ok := g.vector(slot)
	if !ok {
		return float32(math.MaxFloat32)
	}
	return cosineDistance(query, vec)
}

// Insert adds slot to the graph. The caller guarantees the slot's vector
// is already resolvable through VectorSource before calling this.
func (g *Graph) Insert(slot nodeid.SlotId) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[slot]; exists {
		return fmt.Errorf("ann: slot %d already present", slot)
	}
	vec, ok := g.vector(slot)
	if !ok {
		return fmt.Errorf("ann: slot %d has no resolvable vector", slot)
	}

	level := g.selectLevel()
	n := &node{Slot: slot, Level: level, Neighbors: make([][]nodeid.SlotId, level+1)}
	g.nodes[slot] = n

	if !g.hasEntry {
		g.entryPoint = slot
		g.hasEntry = true
		return nil
	}

	entry := g.nodes[g.entryPoint]
	curr := []nodeid.SlotId{g.entryPoint}
	for lc := entry.Level; lc > level; lc-- {
		curr = g.searchLayerTop1(vec, curr, lc)
	}

	for lc := level; lc >= 0; lc-- {
		m := g.cfg.M
		if lc == 0 {
			m = g.cfg.M * 2
		}
		candidates := g.searchLayer(vec, curr, g.cfg.EfConstruction, lc)
		neighbors := g.selectNeighbors(vec, candidates, m)
		n.Neighbors[lc] = neighbors

		for _, nb := range neighbors {
			g.addConnection(nb, slot, lc)
			nbNode := g.nodes[nb]
			maxConn := g.cfg.M
			if lc == 0 {
				maxConn = g.cfg.M * 2
			}
			if lc < len(nbNode.Neighbors) && len(nbNode.Neighbors[lc]) > maxConn {
				if nbVec, ok := g.vector(nb); ok {
					nbNode.Neighbors[lc] = g.selectNeighbors(nbVec, nbNode.Neighbors[lc], maxConn)
				}
			}
		}
		curr = neighbors
	}

	if level > entry.Level {
		g.entryPoint = slot
	}
	return nil
}

func (g *Graph) addConnection(from, to nodeid.SlotId, layer int) {
	n, ok := g.nodes[from]
	if !ok || layer >= len(n.Neighbors) {
		return
	}
	for _, existing := range n.Neighbors[layer] {
		if existing == to {
			return
		}
	}
	n.Neighbors[layer] = append(n.Neighbors[layer], to)
}

type candidate struct {
	slot nodeid.SlotId
	dist float32
}

// searchLayer runs the standard greedy-with-backtrack expansion bounded by
// ef candidates, returning up to ef results closest-first.
func (g *Graph) searchLayer(query []float32, entryPoints []nodeid.SlotId, ef int, layer int) []nodeid.SlotId {
	visited := make(map[nodeid.SlotId]bool)
	var candidates, found []candidate

	for _, p := range entryPoints {
		d := g.distance(query, p)
		candidates = append(candidates, candidate{p, d})
		found = append(found, candidate{p, d})
		visited[p] = true
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		worstFound := float32(math.MaxFloat32)
		if len(found) > 0 {
			worstFound = maxDist(found)
		}
		if c.dist > worstFound && len(found) >= ef {
			break
		}

		n, ok := g.nodes[c.slot]
		if !ok || layer >= len(n.Neighbors) {
			continue
		}
		for _, nb := range n.Neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := g.distance(query, nb)
			if len(found) < ef || d < maxDist(found) {
				candidates = append(candidates, candidate{nb, d})
				found = append(found, candidate{nb, d})
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
				if len(found) > ef {
					found = trimWorst(found)
				}
			}
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	result := make([]nodeid.SlotId, len(found))
	for i, c := range found {
		result[i] = c.slot
	}
	return result
}

func maxDist(cs []candidate) float32 {
	m := cs[0].dist
	for _, c := range cs[1:] {
		if c.dist > m {
			m = c.dist
		}
	}
	return m
}

func trimWorst(cs []candidate) []candidate {
	worstIdx := 0
	for i, c := range cs {
		if c.dist > cs[worstIdx].dist {
			worstIdx = i
		}
	}
	return append(cs[:worstIdx], cs[worstIdx+1:]...)
}

func (g *Graph) searchLayerTop1(query []float32, entryPoints []nodeid.SlotId, layer int) []nodeid.SlotId {
	res := g.searchLayer(query, entryPoints, 1, layer)
	if len(res) > 1 {
		return res[:1]
	}
	return res
}

func (g *Graph) selectNeighbors(query []float32, candidates []nodeid.SlotId, m int) []nodeid.SlotId {
	if len(candidates) <= m {
		out := make([]nodeid.SlotId, len(candidates))
		copy(out, candidates)
		return out
	}
	type pair struct {
		slot nodeid.SlotId
		dist float32
	}
	pairs := make([]pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = pair{c, g.distance(query, c)}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })
	out := make([]nodeid.SlotId, m)
	for i := 0; i < m; i++ {
		out[i] = pairs[i].slot
	}
	return out
}

// SearchResult is one hit returned by Search: a slot and its cosine
// similarity to the query (not distance — higher is better).
type SearchResult struct {
	Slot  nodeid.SlotId
	Score float32
}

// Search returns up to k approximate nearest neighbors of query, best
// first. Returns an empty slice if the graph has no live entry point.
func (g *Graph) Search(query []float32, k int) []SearchResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil
	}
	entry := g.nodes[g.entryPoint]
	curr := []nodeid.SlotId{g.entryPoint}
	for lc := entry.Level; lc > 0; lc-- {
		curr = g.searchLayerTop1(query, curr, lc)
	}

	ef := g.cfg.EfSearch
	if ef < k {
		ef = k * 2
	}
	candidates := g.searchLayer(query, curr, ef, 0)

	results := make([]SearchResult, 0, len(candidates))
	for _, slot := range candidates {
		n, ok := g.nodes[slot]
		if !ok || n.Deleted {
			continue
		}
		vec, ok := g.vector(slot)
		if !ok {
			continue
		}
		results = append(results, SearchResult{Slot: slot, Score: 1 - cosineDistance(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Slot < results[j].Slot
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Delete soft-deletes slot: it stays in the graph as a traversal waypoint
// (its edges keep the rest of the graph connected) but is excluded from
// search results, and a new entry point is chosen if it was the entry
// point.
func (g *Graph) Delete(slot nodeid.SlotId) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[slot]
	if !ok {
		return fmt.Errorf("ann: slot %d not found", slot)
	}
	n.Deleted = true
	if g.entryPoint == slot {
		g.hasEntry = false
		for s, candidateNode := range g.nodes {
			if !candidateNode.Deleted {
				g.entryPoint = s
				g.hasEntry = true
				break
			}
		}
	}
	return nil
}

// Size returns the count of live (non-deleted) nodes.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, node := range g.nodes {
		if !node.Deleted {
			n++
		}
	}
	return n
}

// gobNode is the on-disk shape of a node: gob cannot encode unexported
// fields, so Save/Load round-trip through this mirror.
type gobNode struct {
	Slot      nodeid.SlotId
	Level     int
	Neighbors [][]nodeid.SlotId
	Deleted   bool
}

// Save serializes the graph's topology (not vectors, which live in the
// unified index) to w.
func (g *Graph) Save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	enc := gob.NewEncoder(w)
	if err := enc.Encode(g.cfg); err != nil {
		return err
	}
	if err := enc.Encode(g.entryPoint); err != nil {
		return err
	}
	if err := enc.Encode(g.hasEntry); err != nil {
		return err
	}
	if err := enc.Encode(len(g.nodes)); err != nil {
		return err
	}
	for _, n := range g.nodes {
		gn := gobNode{Slot: n.Slot, Level: n.Level, Neighbors: n.Neighbors, Deleted: n.Deleted}
		if err := enc.Encode(gn); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the graph's topology with the contents read from r. The
// caller must have already re-pointed src at a VectorSource holding the
// same slots the saved topology refers to.
func (g *Graph) Load(r io.Reader) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dec := gob.NewDecoder(r)
	if err := dec.Decode(&g.cfg); err != nil {
		return err
	}
	if err := dec.Decode(&g.entryPoint); err != nil {
		return err
	}
	if err := dec.Decode(&g.hasEntry); err != nil {
		return err
	}
	var count int
	if err := dec.Decode(&count); err != nil {
		return err
	}
	g.nodes = make(map[nodeid.SlotId]*node, count)
	for i := 0; i < count; i++ {
		var gn gobNode
		if err := dec.Decode(&gn); err != nil {
			return err
		}
		g.nodes[gn.Slot] = &node{Slot: gn.Slot, Level: gn.Level, Neighbors: gn.Neighbors, Deleted: gn.Deleted}
	}
	return nil
}

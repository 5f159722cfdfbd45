// Command chitta-bench is a small smoke-test program exercising the
// chitta engine's main operations end to end: remember (with tags), add
// an edge, recall, tick, and print the state summary.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"

	"github.com/liliang-cn/chitta/pkg/mind"
)

// hashEmbedder is a deterministic stand-in for a real embedding model,
// good enough to exercise the recall pipeline without a network call.
type hashEmbedder struct{ dim int }

func (e hashEmbedder) Embed(text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	h := uint32(2166136261)
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
		vec[i%e.dim] += float32(h%1000) / 1000
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		norm = 1
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func main() {
	path := flag.String("path", "./chitta-bench-data", "storage path prefix")
	dim := flag.Int("dim", 32, "embedding dimension")
	flag.Parse()

	cfg := mind.New(
		mind.WithPath(*path),
		mind.WithDimension(*dim),
		mind.WithEmbedder(hashEmbedder{dim: *dim}),
	)

	m, err := mind.Open(cfg)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer m.Close()

	a, err := m.Remember("the morning walk felt calm and unhurried", mind.RememberOptions{
		Type: mind.TypeEpisode,
		Tags: []string{"morning", "walk"},
	})
	if err != nil {
		log.Fatalf("remember: %v", err)
	}

	b, err := m.Remember("slow walks in the morning clear my head", mind.RememberOptions{
		Type: mind.TypeEpisode,
		Tags: []string{"morning", "walk"},
	})
	if err != nil {
		log.Fatalf("remember: %v", err)
	}

	if err := m.AddEdge(a, b, mind.EdgeKindRelatesTo, 0.6); err != nil {
		log.Fatalf("add edge: %v", err)
	}

	results, err := m.Recall("a calm morning walk", mind.RecallOptions{K: 5})
	if err != nil {
		log.Fatalf("recall: %v", err)
	}
	fmt.Printf("recall surfaced %d result(s)\n", len(results))
	for _, r := range results {
		fmt.Printf("  %s  relevance=%.3f  %q\n", r.ID, r.Relevance, r.Text)
	}

	report, err := m.Tick(true)
	if err != nil {
		log.Fatalf("tick: %v", err)
	}
	fmt.Printf("tick: decayed=%d demoted=%d checkpoint=%v synthesized=%d\n",
		report.NodesDecayed, report.NodesDemoted, report.CheckpointRan, report.WisdomSynthesized)

	fmt.Println(m.State())
}

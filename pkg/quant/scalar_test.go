package quant

import (
	"math"
	"testing"
)

func unitVector(t *testing.T, vals ...float32) []float32 {
	t.Helper()
	var sumSq float64
	for _, v := range vals {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vec := unitVector(t, 0.1, -0.4, 0.9, 0.2, -0.05, 0.3, -0.8, 0.15)

	q, err := Encode(vec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if q.Size() != len(vec) {
		t.Fatalf("Size() = %d, want %d", q.Size(), len(vec))
	}

	got, err := Decode(q)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	cos := CosineFloat(vec, got)
	if cos < 0.99 {
		t.Fatalf("round-trip cosine = %.4f, want >= 0.99", cos)
	}
}

func TestCosineApproxIdenticalVectors(t *testing.T) {
	vec := unitVector(t, 1, 2, 3, 4, 5)
	q, err := Encode(vec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	cos, err := CosineApprox(q, q)
	if err != nil {
		t.Fatalf("CosineApprox: %v", err)
	}
	if cos < 0.98 || cos > 1.0+1e-2 {
		t.Fatalf("identical vectors cosine = %.4f, want ~1", cos)
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
}

func TestValidateRejectsNonUnit(t *testing.T) {
	if err := Validate([]float32{5, 5, 5}, 0); err == nil {
		t.Fatal("expected error for non-unit vector")
	}
}

func TestValidateRejectsDimMismatch(t *testing.T) {
	vec := unitVector(t, 1, 0, 0)
	if err := Validate(vec, 8); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

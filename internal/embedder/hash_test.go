package embedder

import (
	"context"
	"math"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	h := NewHash(0)
	if h.Dimension() != defaultHashDimension {
		t.Errorf("Dimension = %d", h.Dimension())
	}

	a, err := h.Embed(context.Background(), "deploy pipeline broke")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Embed(context.Background(), "deploy pipeline broke")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d", i)
		}
	}
}

func TestHashNormalized(t *testing.T) {
	h := NewHash(32)
	vec, err := h.Embed(context.Background(), "some tokens to hash into buckets")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 32 {
		t.Fatalf("len = %d", len(vec))
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("norm = %v, want 1.0", norm)
	}
}

func TestHashCaseInsensitive(t *testing.T) {
	h := NewHash(0)
	a, _ := h.Embed(context.Background(), "Deploy Pipeline")
	b, _ := h.Embed(context.Background(), "deploy pipeline")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("tokenization should lowercase")
		}
	}
}

func TestHashEmptyInput(t *testing.T) {
	h := NewHash(0)
	vec, err := h.Embed(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("empty input should embed to the zero vector")
		}
	}
}

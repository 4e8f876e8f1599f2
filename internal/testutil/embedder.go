package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// FakeEmbedder produces deterministic unit-length vectors without any API
// calls. Words are hashed into vector buckets, so texts sharing vocabulary
// come out cosine-similar and unrelated texts do not. Good enough to drive
// real pgvector queries in integration tests.
type FakeEmbedder struct {
	ModelName string
	Dim       int
	Calls     int
}

// NewFakeEmbedder creates a FakeEmbedder with the given dimensionality.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{ModelName: "fake-embedder", Dim: dim}
}

// Embed returns a deterministic embedding of text.
func (e *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.Calls++
	vec := make([]float32, e.Dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%e.Dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (e *FakeEmbedder) Model() string  { return e.ModelName }
func (e *FakeEmbedder) Dimension() int { return e.Dim }

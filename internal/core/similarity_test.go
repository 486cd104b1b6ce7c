package core_test

import (
	"testing"

	"invoice-agent/internal/core"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"mismatched length", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"scaled", []float32{2, 0}, []float32{5, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.CosineSimilarity(tt.a, tt.b)
			if !approxEqual(got, tt.want) {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRankByEmbedding_TopKStable(t *testing.T) {
	candidates := [][]float32{
		withScore(0.5),
		withScore(0.9),
		nil, // no embedding: skipped
		withScore(0.9),
		withScore(0.7),
	}
	got := core.RankByEmbedding(query, candidates, 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	wantIdx := []int{1, 3, 4}
	for i, sc := range got {
		if sc.Index != wantIdx[i] {
			t.Errorf("rank %d: index = %d, want %d", i, sc.Index, wantIdx[i])
		}
	}
	if all := core.RankByEmbedding(query, candidates, 0); len(all) != 4 {
		t.Errorf("k=0 should return every candidate with an embedding, got %d", len(all))
	}
}

package core

import (
	"context"
	"math"
	"sort"
	"strings"
)

// Embedder turns text into a fixed-length vector. It is the similarity oracle the
// resolver and matcher score against.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity compares two vectors and clamps the result into [0,1].
// Empty or mismatched vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Scored pairs a candidate index with its similarity score.
type Scored struct {
	Index int
	Score float64
}

// RankByEmbedding scores every candidate embedding against query and returns the
// top k in descending score. Ties keep input order. Candidates without an embedding
// are skipped.
func RankByEmbedding(query []float32, candidates [][]float32, k int) []Scored {
	ranked := make([]Scored, 0, len(candidates))
	for i, emb := range candidates {
		if len(emb) == 0 {
			continue
		}
		ranked = append(ranked, Scored{Index: i, Score: CosineSimilarity(query, emb)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// lineQueryText builds the similarity query for a line from material number and description.
func lineQueryText(material, description string) string {
	material = strings.TrimSpace(material)
	description = strings.TrimSpace(strings.TrimSuffix(description, consolidatedMarker))
	switch {
	case material != "" && description != "":
		return material + " " + description
	case material != "":
		return material
	default:
		return description
	}
}

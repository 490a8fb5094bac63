package knowledge

import (
	"context"
	"math"
	"slices"

	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Index is the vector index behind the knowledge store. Chunks are only ever
// added; an index never edits or removes a chunk.
type Index interface {
	// Upsert adds chunks that already carry embeddings
	Upsert(ctx context.Context, chunks []model.Chunk) error
	// Search returns the k chunks nearest to vector, most similar first
	Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error)
	// Empty reports whether the index holds no chunks yet
	Empty(ctx context.Context) (bool, error)
	Close() error
}

// cosine returns the cosine similarity of a and b, 0 when either is a zero vector
// or their dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// topK sorts hits by descending score (ties by chunk ID for determinism) and keeps k
func topK(hits []model.ScoredChunk, k int) []model.ScoredChunk {
	slices.SortFunc(hits, func(a, b model.ScoredChunk) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

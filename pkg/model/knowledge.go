package model

import (
	"github.com/google/uuid"
)

type ChunkID string

// NewChunkID generates a new unique ChunkID
func NewChunkID() ChunkID {
	return ChunkID(uuid.New().String())
}

// Document is a source file to be ingested into the knowledge store
type Document struct {
	Name    string
	Content string
}

// Chunk is a bounded slice of an ingested document. Chunks are never edited
// once indexed.
type Chunk struct {
	ID        ChunkID   `json:"id"`
	SourceID  string    `json:"source_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ScoredChunk is a search hit with its cosine similarity to the query
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// AsRetrievedDoc drops the embedding and keeps the source label
func (c Chunk) AsRetrievedDoc() RetrievedDoc {
	return RetrievedDoc{SourceID: c.SourceID, Content: c.Content}
}

// Package vector defines the chunk model and the nearest-neighbour store
// contract shared by ingestion and retrieval.
package vector

import "context"

// Document categories assigned at ingestion.
const (
	TypeAchievements    = "achievements"
	TypeResume          = "resume"
	TypeRecommendation  = "recommendation"
	TypeLinkedInProfile = "linkedin-profile"
	TypeStructuredJSON  = "structured-json"
	TypeDocument        = "document"
)

type Metadata struct {
	Source      string `json:"source"`
	Type        string `json:"type"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	Company     string `json:"company,omitempty"`
	// Year is 0 when unknown.
	Year int `json:"year,omitempty"`
}

type Chunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata"`
}

// Hit is a query result. Smaller distance means closer.
type Hit struct {
	Chunk    Chunk
	Distance float64
}

type Store interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	// Query returns at most k hits ordered by ascending distance.
	Query(ctx context.Context, embedding []float32, k int) ([]Hit, error)
}

// Pruner is implemented by stores that can drop a source's chunks from
// index keep onward, left behind when a re-ingested document shrinks.
type Pruner interface {
	PruneSource(ctx context.Context, source string, keep int) error
}

// Package memory is an exhaustive-scan vector store for small personal
// corpora, optionally snapshotted to a JSON file.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/pkg/fsutil"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type Store struct {
	mu     sync.RWMutex
	path   string
	order  []string
	chunks map[string]vector.Chunk
	dim    int
}

type snapshot struct {
	Dim    int            `json:"dim"`
	Chunks []vector.Chunk `json:"chunks"`
}

func New() *Store {
	return &Store{chunks: make(map[string]vector.Chunk)}
}

// Open loads the snapshot at path if it exists. Upserts are written back to
// the same path.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("Vector snapshot not found, starting empty", zap.String("path", path))
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vector snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode vector snapshot %s: %w", path, err)
	}
	s.dim = snap.Dim
	for _, c := range snap.Chunks {
		s.put(c)
	}

	logger.Info("Vector snapshot loaded",
		zap.String("path", path),
		zap.Int("chunks", len(s.order)),
	)
	return s, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if s.dim == 0 {
			s.dim = len(c.Embedding)
		}
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("chunk %s has dimension %d, store expects %d", c.ID, len(c.Embedding), s.dim)
		}
	}
	for _, c := range chunks {
		s.put(c)
	}

	if s.path != "" {
		if err := s.saveLocked(); err != nil {
			return err
		}
	}
	logger.Debug("Chunks upserted into memory store", zap.Int("count", len(chunks)))
	return nil
}

func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]vector.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(embedding) != s.dim {
		return nil, fmt.Errorf("query has dimension %d, store expects %d", len(embedding), s.dim)
	}

	hits := make([]vector.Hit, 0, len(s.order))
	for _, id := range s.order {
		c := s.chunks[id]
		hits = append(hits, vector.Hit{Chunk: c, Distance: CosineDistance(embedding, c.Embedding)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// PruneSource removes the chunks of source whose index is keep or higher.
func (s *Store) PruneSource(ctx context.Context, source string, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		c := s.chunks[id]
		if c.Metadata.Source == source && c.Metadata.ChunkIndex >= keep {
			delete(s.chunks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	if removed == 0 {
		return nil
	}

	if s.path != "" {
		if err := s.saveLocked(); err != nil {
			return err
		}
	}
	logger.Debug("Stale chunks pruned from memory store",
		zap.String("source", source),
		zap.Int("count", removed),
	)
	return nil
}

func (s *Store) put(c vector.Chunk) {
	if _, ok := s.chunks[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	s.chunks[c.ID] = c
}

func (s *Store) saveLocked() error {
	snap := snapshot{Dim: s.dim, Chunks: make([]vector.Chunk, 0, len(s.order))}
	for _, id := range s.order {
		snap.Chunks = append(snap.Chunks, s.chunks[id])
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode vector snapshot: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write vector snapshot: %w", err)
	}
	return nil
}

// CosineDistance is 1 - cosine similarity, in [0, 2]. Mismatched or zero
// vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

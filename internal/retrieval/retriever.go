package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/internal/scoring"
	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type Options struct {
	ResultsPerQuery   int
	DistanceThreshold float64
}

type Retriever struct {
	embedder llm.Embedder
	store    vector.Store
	scorer   *scoring.Scorer
	planner  Planner
	opts     Options
}

func NewRetriever(embedder llm.Embedder, store vector.Store, scorer *scoring.Scorer, opts Options) *Retriever {
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = 40
	}
	if opts.DistanceThreshold <= 0 {
		opts.DistanceThreshold = 2.0
	}
	return &Retriever{embedder: embedder, store: store, scorer: scorer, opts: opts}
}

// Retrieve plans the facet queries for the posting and returns the merged,
// scored and sorted candidates.
func (r *Retriever) Retrieve(ctx context.Context, a analysis.JobAnalysis, jobText string) ([]scoring.ScoredChunk, error) {
	return r.RetrieveQueries(ctx, r.planner.Plan(a, jobText), a)
}

// RetrieveQueries runs each distinct query independently. Hits beyond the
// distance threshold are dropped and duplicates keep their best distance. It
// fails only when every query failed.
func (r *Retriever) RetrieveQueries(ctx context.Context, queries []Query, a analysis.JobAnalysis) ([]scoring.ScoredChunk, error) {
	start := time.Now()
	queries = Distinct(queries)
	if len(queries) == 0 {
		return nil, nil
	}

	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}

	embeddings, err := r.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(embeddings) != len(texts) {
		err = fmt.Errorf("expected %d query embeddings, got %d", len(texts), len(embeddings))
	}
	if err != nil {
		metrics.ObserveStage("retrieval", time.Since(start).Seconds(), err)
		return nil, apperrors.Retrieval("embed queries", err)
	}

	best := make(map[string]vector.Hit)
	var order []string
	var errs []error

	for i, q := range queries {
		hits, err := r.store.Query(ctx, embeddings[i], r.opts.ResultsPerQuery)
		if err != nil {
			logger.Warn("Retrieval query failed",
				zap.String("facet", q.Facet),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", q.Facet, err))
			continue
		}

		kept := 0
		for _, h := range hits {
			if h.Distance > r.opts.DistanceThreshold {
				continue
			}
			kept++
			prev, ok := best[h.Chunk.ID]
			if !ok {
				order = append(order, h.Chunk.ID)
				best[h.Chunk.ID] = h
				continue
			}
			if h.Distance < prev.Distance {
				best[h.Chunk.ID] = h
			}
		}
		logger.Debug("Retrieval query completed",
			zap.String("facet", q.Facet),
			zap.Int("hits", len(hits)),
			zap.Int("kept", kept),
		)
	}

	if len(errs) == len(queries) {
		err := errors.Join(errs...)
		metrics.ObserveStage("retrieval", time.Since(start).Seconds(), err)
		return nil, apperrors.Retrieval("query vector store", err)
	}

	out := make([]scoring.ScoredChunk, 0, len(order))
	for _, id := range order {
		h := best[id]
		out = append(out, r.scorer.Score(h.Chunk, h.Distance, a))
	}
	scoring.Sort(out)

	metrics.ObserveStage("retrieval", time.Since(start).Seconds(), nil)
	metrics.RetrievedChunks.Observe(float64(len(out)))
	logger.Info("Context retrieved",
		zap.Int("queries", len(queries)),
		zap.Int("failed_queries", len(errs)),
		zap.Int("chunks", len(out)),
	)
	return out, nil
}

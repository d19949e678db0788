package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/internal/storage/sqlite"
	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
	"github.com/coverletter-agent/backend/pkg/utils"
)

type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error
	GetDocumentByPath(ctx context.Context, path string) (*models.Document, error)
}

type Processor struct {
	store     vector.Store
	embedder  llm.Embedder
	docs      DocumentStore
	chunker   Chunker
	batchSize int
	companies []string
	now       func() time.Time
}

func NewProcessor(store vector.Store, embedder llm.Embedder, docs DocumentStore, cfg config.IngestionConfig) *Processor {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 64
	}
	companies := make([]string, 0, len(cfg.KnownCompanies))
	for _, c := range cfg.KnownCompanies {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			companies = append(companies, c)
		}
	}
	return &Processor{
		store:     store,
		embedder:  embedder,
		docs:      docs,
		chunker:   Chunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		batchSize: batch,
		companies: companies,
		now:       time.Now,
	}
}

type FileResult struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	Chunks    int    `json:"chunks"`
	Unchanged bool   `json:"unchanged,omitempty"`
}

type Report struct {
	Files     []FileResult      `json:"files"`
	Chunks    int               `json:"chunks"`
	Unchanged int               `json:"unchanged"`
	Skipped   int               `json:"skipped"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Skip reports whether a path under the data directory is ignored.
func Skip(rel string, d fs.DirEntry) bool {
	lower := strings.ToLower(rel)
	if strings.Contains(lower, "template") {
		return true
	}
	if strings.HasPrefix(d.Name(), ".") && rel != "." {
		return true
	}
	return !d.IsDir() && d.Name() == "contact_info.json"
}

// ProcessDir ingests every supported file under dir. A failing file is
// recorded in the report and the walk continues.
func (p *Processor) ProcessDir(ctx context.Context, dir string, force bool) (*Report, error) {
	report := &Report{Failed: make(map[string]string)}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		if Skip(rel, d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			report.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !Supported(path) {
			report.Skipped++
			return nil
		}

		res, err := p.ProcessFile(ctx, path, filepath.ToSlash(rel), force)
		switch {
		case errors.Is(err, ErrUnsupported):
			report.Skipped++
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Warn("Failed to ingest file", zap.String("path", rel), zap.Error(err))
			report.Failed[rel] = err.Error()
		default:
			report.Files = append(report.Files, *res)
			report.Chunks += res.Chunks
			if res.Unchanged {
				report.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	logger.Info("Ingestion finished",
		zap.String("dir", dir),
		zap.Int("files", len(report.Files)),
		zap.Int("chunks", report.Chunks),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// ProcessFile extracts, chunks, embeds and stores one file. source is the
// name recorded on every chunk. Unchanged content is skipped unless force
// is set.
func (p *Processor) ProcessFile(ctx context.Context, path, source string, force bool) (*FileResult, error) {
	sections, err := Extract(path)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no content extracted from %s", source)
	}

	var all strings.Builder
	for _, s := range sections {
		all.WriteString(s.Text)
		all.WriteString("\n")
	}
	hash := utils.HashString(all.String())
	docType := sections[0].Type

	var existing *models.Document
	if p.docs != nil {
		existing, err = p.docs.GetDocumentByPath(ctx, source)
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return nil, err
		}
		if existing != nil && existing.ContentHash == hash && !force {
			logger.Debug("Document unchanged", zap.String("source", source))
			return &FileResult{Path: source, Type: docType, Chunks: existing.ChunkCount, Unchanged: true}, nil
		}
	}

	name := strings.ToLower(filepath.Base(source))
	year := inferYear(name)
	fileCompany := p.inferCompany(name)

	var chunks []vector.Chunk
	for _, s := range sections {
		company := fileCompany
		if s.Company != "" {
			company = s.Company
		}
		for _, piece := range p.chunker.Split(s.Text) {
			chunks = append(chunks, vector.Chunk{
				ID:   utils.ChunkID(source, len(chunks)),
				Text: piece,
				Metadata: vector.Metadata{
					Source:     source,
					Type:       s.Type,
					ChunkIndex: len(chunks),
					Company:    company,
					Year:       year,
				},
			})
		}
	}
	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}

	if err := p.embedAndStore(ctx, chunks); err != nil {
		return nil, err
	}
	if pruner, ok := p.store.(vector.Pruner); ok {
		if err := pruner.PruneSource(ctx, source, len(chunks)); err != nil {
			return nil, fmt.Errorf("failed to prune stale chunks: %w", err)
		}
	}

	if p.docs != nil {
		now := p.now()
		doc := &models.Document{
			ID:          utils.HashString(source),
			Path:        source,
			Title:       filepath.Base(source),
			DocType:     docType,
			Company:     fileCompany,
			Year:        year,
			ContentHash: hash,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if existing != nil {
			doc.CreatedAt = existing.CreatedAt
		}
		rows := make([]models.DocumentChunk, len(chunks))
		for i, c := range chunks {
			rows[i] = models.DocumentChunk{ID: c.ID, DocID: doc.ID, ChunkIndex: i, Text: c.Text, CreatedAt: now}
		}
		if err := p.docs.UpsertDocument(ctx, doc, rows); err != nil {
			return nil, err
		}
	}

	metrics.DocumentsProcessed.WithLabelValues(docType).Inc()
	logger.Info("Document ingested",
		zap.String("source", source),
		zap.String("type", docType),
		zap.Int("chunks", len(chunks)),
		zap.String("company", fileCompany),
		zap.Int("year", year),
	)
	return &FileResult{Path: source, Type: docType, Chunks: len(chunks)}, nil
}

func (p *Processor) embedAndStore(ctx context.Context, chunks []vector.Chunk) error {
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		embeddings, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(embeddings) != len(batch) {
			return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = embeddings[i]
		}

		if err := p.store.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("failed to upsert chunks: %w", err)
		}
	}
	return nil
}

var yearRe = regexp.MustCompile(`20[12]\d`)

// inferYear returns the first 2010-2029 year in a file name, or 0.
func inferYear(name string) int {
	m := yearRe.FindString(name)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

func (p *Processor) inferCompany(name string) string {
	for _, c := range p.companies {
		if strings.Contains(name, c) {
			return c
		}
	}
	return ""
}

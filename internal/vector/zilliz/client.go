package zilliz

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/pkg/logger"
)

const (
	fieldID          = "chunk_id"
	fieldEmbedding   = "embedding"
	fieldText        = "text"
	fieldSource      = "source"
	fieldType        = "type"
	fieldChunkIndex  = "chunk_index"
	fieldTotalChunks = "total_chunks"
	fieldCompany     = "company"
	fieldYear        = "year"
)

var outputFields = []string{
	fieldID, fieldText, fieldSource, fieldType,
	fieldChunkIndex, fieldTotalChunks, fieldCompany, fieldYear,
}

// Client is a vector.Store backed by a Milvus or Zilliz Cloud collection
// indexed with the COSINE metric.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	var (
		c   client.Client
		err error
	)
	if apiKey != "" {
		c, err = client.NewClient(ctx, client.Config{Address: endpoint, APIKey: apiKey, EnableTLSAuth: true})
	} else {
		c, err = client.NewGrpcClient(ctx, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func varChar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": fmt.Sprintf("%d", maxLen)},
	}
}

const (
	ivfNList       = 128
	ivfSearchLists = 16
)

func indexParams() (entity.Index, error) {
	return entity.NewIndexIvfFlat(entity.COSINE, ivfNList)
}

func searchParams() (entity.SearchParam, error) {
	return entity.NewIndexIvfFlatSearchParam(ivfSearchLists)
}

// EnsureCollection creates, indexes and loads the collection when missing.
func (z *Client) EnsureCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	id := varChar(fieldID, 128)
	id.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Candidate document chunks",
		Fields: []*entity.Field{
			id,
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", z.vectorDim)},
			},
			varChar(fieldText, 8192),
			varChar(fieldSource, 512),
			varChar(fieldType, 64),
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldTotalChunks, DataType: entity.FieldTypeInt64},
			varChar(fieldCompany, 256),
			{Name: fieldYear, DataType: entity.FieldTypeInt64},
		},
	}

	if err := z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := indexParams()
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))
	return nil
}

func (z *Client) Upsert(ctx context.Context, chunks []vector.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	n := len(chunks)
	ids := make([]string, n)
	embeddings := make([][]float32, n)
	texts := make([]string, n)
	sources := make([]string, n)
	types := make([]string, n)
	indexes := make([]int64, n)
	totals := make([]int64, n)
	companies := make([]string, n)
	years := make([]int64, n)

	for i, c := range chunks {
		if len(c.Embedding) != z.vectorDim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", c.ID, len(c.Embedding), z.vectorDim)
		}
		ids[i] = c.ID
		embeddings[i] = c.Embedding
		texts[i] = c.Text
		sources[i] = c.Metadata.Source
		types[i] = c.Metadata.Type
		indexes[i] = int64(c.Metadata.ChunkIndex)
		totals[i] = int64(c.Metadata.TotalChunks)
		companies[i] = c.Metadata.Company
		years[i] = int64(c.Metadata.Year)
	}

	_, err := z.client.Upsert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldType, types),
		entity.NewColumnInt64(fieldChunkIndex, indexes),
		entity.NewColumnInt64(fieldTotalChunks, totals),
		entity.NewColumnVarChar(fieldCompany, companies),
		entity.NewColumnInt64(fieldYear, years),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", n))
	return nil
}

// PruneSource deletes the chunks of source whose index is keep or higher.
func (z *Client) PruneSource(ctx context.Context, source string, keep int) error {
	if err := z.client.Delete(ctx, z.collectionName, "", pruneExpr(source, keep)); err != nil {
		return fmt.Errorf("failed to delete stale chunks: %w", err)
	}
	return nil
}

func pruneExpr(source string, keep int) string {
	return fmt.Sprintf("%s == %s && %s >= %d", fieldSource, strconv.Quote(source), fieldChunkIndex, keep)
}

func (z *Client) Query(ctx context.Context, embedding []float32, k int) ([]vector.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	sp, err := searchParams()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, k)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunk := vector.Chunk{
				ID:   columnString(sr.Fields, fieldID, i),
				Text: columnString(sr.Fields, fieldText, i),
				Metadata: vector.Metadata{
					Source:      columnString(sr.Fields, fieldSource, i),
					Type:        columnString(sr.Fields, fieldType, i),
					ChunkIndex:  int(columnInt(sr.Fields, fieldChunkIndex, i)),
					TotalChunks: int(columnInt(sr.Fields, fieldTotalChunks, i)),
					Company:     columnString(sr.Fields, fieldCompany, i),
					Year:        int(columnInt(sr.Fields, fieldYear, i)),
				},
			}
			// COSINE scores are similarities; callers expect distances.
			hits = append(hits, vector.Hit{Chunk: chunk, Distance: 1 - float64(sr.Scores[i])})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(hits)),
	)
	return hits, nil
}

func columnString(cols client.ResultSet, name string, i int) string {
	col := cols.GetColumn(name)
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func columnInt(cols client.ResultSet, name string, i int) int64 {
	col := cols.GetColumn(name)
	if col == nil {
		return 0
	}
	v, err := col.Get(i)
	if err != nil {
		return 0
	}
	n, _ := v.(int64)
	return n
}

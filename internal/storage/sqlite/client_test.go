package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.InitSchema())
	return c
}

func TestDocumentUpsertReplacesChunks(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	doc := &models.Document{ID: "d1", Path: "data/resume.pdf", Title: "resume.pdf", DocType: "resume", Year: 2023, ContentHash: "h1", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, c.UpsertDocument(ctx, doc, []models.DocumentChunk{
		{ID: "d1_0", ChunkIndex: 0, Text: "a", CreatedAt: now},
		{ID: "d1_1", ChunkIndex: 1, Text: "b", CreatedAt: now},
	}))

	doc.ContentHash = "h2"
	require.NoError(t, c.UpsertDocument(ctx, doc, []models.DocumentChunk{{ID: "d1_0", ChunkIndex: 0, Text: "a2", CreatedAt: now}}))

	got, err := c.GetDocumentByPath(ctx, "data/resume.pdf")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.ContentHash)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 2023, got.Year)
	assert.Empty(t, got.Company)

	docs, err := c.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = c.GetDocumentByPath(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveApplicationIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	app := &models.Application{
		ID:        "s1",
		Company:   "Acme",
		JobTitle:  "Engineering Manager",
		Letter:    "Dear team",
		TotalCost: 0.01,
		CreatedAt: now,
		UpdatedAt: now,
		Sources:   []models.ApplicationSource{{ChunkID: "c1", Source: "resume.pdf", Score: 90}},
		Costs:     []models.ApplicationCost{{Stage: "draft", Model: "gpt-4o", InputTokens: 10, OutputTokens: 20, Cost: 0.01}},
	}
	require.NoError(t, c.SaveApplication(ctx, app))

	app.Letter = "Dear hiring team"
	app.Sources = append(app.Sources, models.ApplicationSource{ChunkID: "c2", Source: "achievements.txt", Score: 70})
	require.NoError(t, c.SaveApplication(ctx, app))

	got, err := c.GetApplication(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Dear hiring team", got.Letter)
	assert.Len(t, got.Sources, 2)
	require.Len(t, got.Costs, 1)
	assert.Equal(t, "draft", got.Costs[0].Stage)

	list, err := c.ListApplications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Acme", list[0].Company)

	_, err = c.GetApplication(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

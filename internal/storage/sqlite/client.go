package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		path TEXT UNIQUE NOT NULL,
		title TEXT NOT NULL,
		doc_type TEXT NOT NULL,
		company TEXT,
		year INTEGER,
		content_hash TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(doc_type);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		company TEXT,
		job_title TEXT,
		level TEXT,
		job_type TEXT,
		letter TEXT NOT NULL,
		output_path TEXT,
		revisions INTEGER NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_applications_created ON applications(created_at);

	CREATE TABLE IF NOT EXISTS application_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		application_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		source TEXT,
		score REAL,
		FOREIGN KEY (application_id) REFERENCES applications(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_application ON application_sources(application_id);

	CREATE TABLE IF NOT EXISTS application_costs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		application_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		model TEXT,
		input_tokens INTEGER,
		output_tokens INTEGER,
		cost REAL,
		FOREIGN KEY (application_id) REFERENCES applications(id) ON DELETE CASCADE
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// UpsertDocument stores the document and replaces its chunk rows in one
// transaction.
func (c *Client) UpsertDocument(ctx context.Context, doc *models.Document, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, path, title, doc_type, company, year, content_hash, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			doc_type = excluded.doc_type,
			company = excluded.company,
			year = excluded.year,
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`,
		doc.ID,
		doc.Path,
		doc.Title,
		doc.DocType,
		doc.Company,
		doc.Year,
		doc.ContentHash,
		len(chunks),
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE doc_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	for _, ch := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, doc_id, chunk_index, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			ch.ID, doc.ID, ch.ChunkIndex, ch.Text, ch.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document: %w", err)
	}

	doc.ChunkCount = len(chunks)
	logger.Debug("Document stored", zap.String("doc_id", doc.ID), zap.String("path", doc.Path), zap.Int("chunks", len(chunks)))
	return nil
}

const documentColumns = `id, path, title, doc_type, company, year, content_hash, chunk_count, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	var company sql.NullString
	var year sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&doc.ID,
		&doc.Path,
		&doc.Title,
		&doc.DocType,
		&company,
		&year,
		&doc.ContentHash,
		&doc.ChunkCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Company = company.String
	doc.Year = int(year.Int64)
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

func (c *Client) GetDocumentByPath(ctx context.Context, path string) (*models.Document, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE path = ?`, path)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// SaveApplication writes the application with its sources and costs. Saving
// the same ID again replaces the earlier rows.
func (c *Client) SaveApplication(ctx context.Context, app *models.Application) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO applications (id, company, job_title, level, job_type, letter, output_path, revisions, total_cost, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			letter = excluded.letter,
			output_path = excluded.output_path,
			revisions = excluded.revisions,
			total_cost = excluded.total_cost,
			updated_at = excluded.updated_at
	`,
		app.ID,
		app.Company,
		app.JobTitle,
		app.Level,
		app.JobType,
		app.Letter,
		app.OutputPath,
		app.Revisions,
		app.TotalCost,
		app.CreatedAt.Unix(),
		app.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}

	for _, table := range []string{"application_sources", "application_costs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE application_id = ?`, app.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, src := range app.Sources {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO application_sources (application_id, chunk_id, source, score) VALUES (?, ?, ?, ?)`,
			app.ID, src.ChunkID, src.Source, src.Score,
		)
		if err != nil {
			return fmt.Errorf("failed to insert application source: %w", err)
		}
	}

	for _, cost := range app.Costs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO application_costs (application_id, stage, model, input_tokens, output_tokens, cost) VALUES (?, ?, ?, ?, ?, ?)`,
			app.ID, cost.Stage, cost.Model, cost.InputTokens, cost.OutputTokens, cost.Cost,
		)
		if err != nil {
			return fmt.Errorf("failed to insert application cost: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit application: %w", err)
	}

	logger.Info("Application saved",
		zap.String("application_id", app.ID),
		zap.String("company", app.Company),
		zap.Int("sources", len(app.Sources)),
		zap.Float64("total_cost", app.TotalCost),
	)
	return nil
}

const applicationColumns = `id, company, job_title, level, job_type, letter, output_path, revisions, total_cost, created_at, updated_at`

func scanApplication(row interface{ Scan(...any) error }) (*models.Application, error) {
	var app models.Application
	var company, title, level, jobType, outputPath sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(
		&app.ID,
		&company,
		&title,
		&level,
		&jobType,
		&app.Letter,
		&outputPath,
		&app.Revisions,
		&app.TotalCost,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Company = company.String
	app.JobTitle = title.String
	app.Level = level.String
	app.JobType = jobType.String
	app.OutputPath = outputPath.String
	app.CreatedAt = time.Unix(createdAt, 0)
	app.UpdatedAt = time.Unix(updatedAt, 0)
	return &app, nil
}

func (c *Client) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT chunk_id, source, score FROM application_sources WHERE application_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get application sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var src models.ApplicationSource
		var source sql.NullString
		if err := rows.Scan(&src.ChunkID, &source, &src.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		src.Source = source.String
		app.Sources = append(app.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	costRows, err := c.db.QueryContext(ctx,
		`SELECT stage, model, input_tokens, output_tokens, cost FROM application_costs WHERE application_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get application costs: %w", err)
	}
	defer costRows.Close()

	for costRows.Next() {
		var cost models.ApplicationCost
		var model sql.NullString
		if err := costRows.Scan(&cost.Stage, &model, &cost.InputTokens, &cost.OutputTokens, &cost.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cost.Model = model.String
		app.Costs = append(app.Costs, cost)
	}

	return app, costRows.Err()
}

// ListApplications returns the newest applications first, without sources.
func (c *Client) ListApplications(ctx context.Context, limit int) ([]models.Application, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

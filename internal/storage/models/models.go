package models

import "time"

// Document is one ingested source file.
type Document struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	DocType     string    `json:"doc_type"`
	Company     string    `json:"company,omitempty"`
	Year        int       `json:"year,omitempty"`
	ContentHash string    `json:"content_hash"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type DocumentChunk struct {
	ID         string    `json:"id"`
	DocID      string    `json:"doc_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Application is a saved cover letter. Its ID is the generation session ID.
type Application struct {
	ID         string    `json:"id"`
	Company    string    `json:"company"`
	JobTitle   string    `json:"job_title"`
	Level      string    `json:"level"`
	JobType    string    `json:"job_type"`
	Letter     string    `json:"letter"`
	OutputPath string    `json:"output_path"`
	Revisions  int       `json:"revisions"`
	TotalCost  float64   `json:"total_cost"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Sources []ApplicationSource `json:"sources,omitempty"`
	Costs   []ApplicationCost   `json:"costs,omitempty"`
}

type ApplicationSource struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

type ApplicationCost struct {
	Stage        string  `json:"stage"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

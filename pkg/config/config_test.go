package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 40, cfg.Retrieval.ResultsPerQuery)
	assert.Equal(t, 2.0, cfg.Retrieval.DistanceThreshold)
	assert.Equal(t, 15000, cfg.Retrieval.MaxContextChars)
	assert.Equal(t, 3, cfg.Retrieval.MaxPerSource)
	assert.Equal(t, 3, cfg.Feedback.PatternThreshold)
	assert.InDelta(t, 0.1, cfg.LLM.Analysis.Temperature, 1e-6)
	assert.InDelta(t, 0.7, cfg.LLM.Draft.Temperature, 1e-6)
	assert.InDelta(t, 0.9, cfg.LLM.Draft.TopP, 1e-6)
	assert.Equal(t, 1000, cfg.LLM.Draft.MaxTokens)
	assert.Equal(t, 1, cfg.LLM.Draft.MaxAttempts)
	assert.Equal(t, 15.0, cfg.Scoring.Achievement)
	assert.Equal(t, 12.0, cfg.Scoring.Management)
	assert.True(t, cfg.Generation.TwoStage)
	assert.Equal(t, "memory", cfg.Vector.Backend)

	price, ok := cfg.LLM.Pricing["gpt-4o"]
	require.True(t, ok)
	assert.Equal(t, 2.5, price.Input)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  maxContextChars: 8000
  maxPerSource: 2
candidate:
  name: Jane Doe
ingestion:
  knownCompanies: [acme, globex]
`)
	t.Setenv("COVERLETTER_RETRIEVAL_RESULTSPERQUERY", "12")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Retrieval.MaxContextChars)
	assert.Equal(t, 2, cfg.Retrieval.MaxPerSource)
	assert.Equal(t, 12, cfg.Retrieval.ResultsPerQuery)
	assert.Equal(t, "Jane Doe", cfg.Candidate.Name)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Ingestion.KnownCompanies)
}

func TestAPIKeyFallsBackToProviderVariable(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadFile(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "retrieval:\n  maxContextChars: 0\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "vector:\n  backend: sqlite\n"))
	assert.Error(t, err)

	_, err = LoadFile(writeConfig(t, "ingestion:\n  chunkSize: 100\n  chunkOverlap: 100\n"))
	assert.Error(t, err)
}

func TestLoadFileMissingExplicitPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

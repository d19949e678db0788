package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Vector     VectorConfig
	Zilliz     ZillizConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
	Scoring    ScoringConfig
	Generation GenerationConfig
	Feedback   FeedbackConfig
	Ingestion  IngestionConfig
	Candidate  CandidateConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        int
	WriteTimeout       int
	BodyLimit          int
	RateLimitPerMinute int
	AllowedOrigins     []string
	SessionTTLMinutes  int
}

// VectorConfig selects the vector store backend: "memory" for the local
// exhaustive-scan store or "zilliz" for Milvus/Zilliz.
type VectorConfig struct {
	Backend    string
	MemoryPath string
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled           bool
	Host              string
	Port              int
	Password          string
	DB                int
	EmbeddingTTLHours int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	EmbeddingDim   int
	Analysis       RoleConfig
	Draft          RoleConfig
	Critique       RoleConfig
	Revision       RoleConfig
	Enhance        RoleConfig
	Summary        RoleConfig
	Pricing        map[string]PriceConfig
}

// RoleConfig holds the per-call-site model settings.
type RoleConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
	TopP        float32
	TimeoutSec  int
	MaxAttempts int
}

// PriceConfig is USD per million tokens.
type PriceConfig struct {
	Input  float64
	Output float64
}

type RetrievalConfig struct {
	ResultsPerQuery   int
	DistanceThreshold float64
	MaxContextChars   int
	MaxPerSource      int
	MinScore          float64
}

type ScoringConfig struct {
	DistanceCeiling    float64
	DistanceScale      float64
	Achievement        float64
	Resume             float64
	Recommendation     float64
	Recent             float64
	Previous           float64
	RecentYears        int
	PreviousYears      int
	Percentage         float64
	TeamSize           float64
	Leadership         float64
	Management         float64
	Technical          float64
	TechnologyMatch    float64
	ProcessImprovement float64
}

type GenerationConfig struct {
	TwoStage             bool
	EnhanceFeedback      bool
	ReretrieveOnFeedback bool
	SystemPromptPath     string
	CritiquePromptPath   string
	OutputDir            string
}

type FeedbackConfig struct {
	HistoryPath      string
	PatternThreshold int
}

type IngestionConfig struct {
	DataDir        string
	ChunkSize      int
	ChunkOverlap   int
	BatchSize      int
	KnownCompanies []string
}

type CandidateConfig struct {
	Name string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads .env, config.yaml and COVERLETTER_* environment variables, in
// increasing order of precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.coverletter")
		v.AddConfigPath("/etc/coverletter")
	}

	v.SetEnvPrefix("COVERLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.apiKey", "COVERLETTER_LLM_APIKEY", "OPENAI_API_KEY", "GROQ_API_KEY")
	_ = v.BindEnv("zilliz.apiKey", "COVERLETTER_ZILLIZ_APIKEY", "ZILLIZ_API_KEY")
	_ = v.BindEnv("ingestion.dataDir", "COVERLETTER_INGESTION_DATADIR", "DATA_DIR")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Retrieval.MaxContextChars <= 0 {
		return fmt.Errorf("retrieval.maxContextChars must be positive, got %d", c.Retrieval.MaxContextChars)
	}
	if c.Retrieval.ResultsPerQuery <= 0 {
		return fmt.Errorf("retrieval.resultsPerQuery must be positive, got %d", c.Retrieval.ResultsPerQuery)
	}
	if c.Feedback.PatternThreshold <= 0 {
		return fmt.Errorf("feedback.patternThreshold must be positive, got %d", c.Feedback.PatternThreshold)
	}
	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("ingestion.chunkOverlap (%d) must be smaller than ingestion.chunkSize (%d)",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize)
	}
	switch c.Vector.Backend {
	case "memory", "zilliz":
	default:
		return fmt.Errorf("vector.backend must be memory or zilliz, got %q", c.Vector.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 2*1024*1024)
	v.SetDefault("server.rateLimitPerMinute", 30)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("server.sessionTTLMinutes", 120)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.memoryPath", "./data/vectors.json")

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "cover_letter_context")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("sqlite.path", "./data/coverletter.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLHours", 24*7)

	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("llm.analysis.model", "gpt-4o-mini")
	v.SetDefault("llm.analysis.temperature", 0.1)
	v.SetDefault("llm.analysis.maxTokens", 1000)
	v.SetDefault("llm.analysis.timeoutSec", 30)
	v.SetDefault("llm.analysis.maxAttempts", 1)

	v.SetDefault("llm.draft.model", "gpt-4o")
	v.SetDefault("llm.draft.temperature", 0.7)
	v.SetDefault("llm.draft.maxTokens", 1000)
	v.SetDefault("llm.draft.topP", 0.9)
	v.SetDefault("llm.draft.timeoutSec", 120)
	v.SetDefault("llm.draft.maxAttempts", 1)

	v.SetDefault("llm.critique.model", "gpt-4o")
	v.SetDefault("llm.critique.temperature", 0.3)
	v.SetDefault("llm.critique.maxTokens", 1500)
	v.SetDefault("llm.critique.timeoutSec", 120)
	v.SetDefault("llm.critique.maxAttempts", 1)

	v.SetDefault("llm.revision.model", "gpt-4o")
	v.SetDefault("llm.revision.temperature", 0.7)
	v.SetDefault("llm.revision.maxTokens", 1000)
	v.SetDefault("llm.revision.topP", 0.9)
	v.SetDefault("llm.revision.timeoutSec", 120)
	v.SetDefault("llm.revision.maxAttempts", 1)

	v.SetDefault("llm.enhance.model", "gpt-4o-mini")
	v.SetDefault("llm.enhance.temperature", 0.3)
	v.SetDefault("llm.enhance.maxTokens", 200)
	v.SetDefault("llm.enhance.timeoutSec", 20)
	v.SetDefault("llm.enhance.maxAttempts", 2)

	v.SetDefault("llm.summary.model", "gpt-4o-mini")
	v.SetDefault("llm.summary.temperature", 0.7)
	v.SetDefault("llm.summary.maxTokens", 500)
	v.SetDefault("llm.summary.timeoutSec", 30)
	v.SetDefault("llm.summary.maxAttempts", 2)

	v.SetDefault("llm.pricing", map[string]interface{}{
		"gpt-4o":                 map[string]interface{}{"input": 2.50, "output": 10.00},
		"gpt-4o-mini":            map[string]interface{}{"input": 0.15, "output": 0.60},
		"gpt-4-turbo":            map[string]interface{}{"input": 10.00, "output": 30.00},
		"claude-3-opus-20240229": map[string]interface{}{"input": 15.00, "output": 75.00},
	})

	v.SetDefault("retrieval.resultsPerQuery", 40)
	v.SetDefault("retrieval.distanceThreshold", 2.0)
	v.SetDefault("retrieval.maxContextChars", 15000)
	v.SetDefault("retrieval.maxPerSource", 3)
	v.SetDefault("retrieval.minScore", 0.0)

	v.SetDefault("scoring.distanceCeiling", 2.0)
	v.SetDefault("scoring.distanceScale", 10.0)
	v.SetDefault("scoring.achievement", 15)
	v.SetDefault("scoring.resume", 10)
	v.SetDefault("scoring.recommendation", 8)
	v.SetDefault("scoring.recent", 12)
	v.SetDefault("scoring.previous", 8)
	v.SetDefault("scoring.recentYears", 2)
	v.SetDefault("scoring.previousYears", 5)
	v.SetDefault("scoring.percentage", 10)
	v.SetDefault("scoring.teamSize", 8)
	v.SetDefault("scoring.leadership", 8)
	v.SetDefault("scoring.management", 12)
	v.SetDefault("scoring.technical", 5)
	v.SetDefault("scoring.technologyMatch", 7)
	v.SetDefault("scoring.processImprovement", 6)

	v.SetDefault("generation.twoStage", true)
	v.SetDefault("generation.enhanceFeedback", true)
	v.SetDefault("generation.reretrieveOnFeedback", true)
	v.SetDefault("generation.systemPromptPath", "./prompts/system_prompt.txt")
	v.SetDefault("generation.critiquePromptPath", "./prompts/critique_prompt.txt")
	v.SetDefault("generation.outputDir", "./output")

	v.SetDefault("feedback.historyPath", "./data/feedback_history.json")
	v.SetDefault("feedback.patternThreshold", 3)

	v.SetDefault("ingestion.dataDir", "./data/sources")
	v.SetDefault("ingestion.chunkSize", 1000)
	v.SetDefault("ingestion.chunkOverlap", 100)
	v.SetDefault("ingestion.batchSize", 64)
	v.SetDefault("ingestion.knownCompanies", []string{"johnson", "j&j", "fitbit", "google", "amazon", "microsoft", "startup"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stderr")
}

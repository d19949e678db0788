package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/pkg/circuitbreaker"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
	"github.com/coverletter-agent/backend/pkg/retry"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

const defaultTimeout = 60 * time.Second

type Message struct {
	Role    string
	Content string
}

func System(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func User(content string) Message      { return Message{Role: RoleUser, Content: content} }
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ChatRequest carries the per-call-site sampling settings. MaxAttempts of 0
// means a single attempt.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	TopP        float32
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
}

// NewRequest builds a request from a configured model role.
func NewRequest(role config.RoleConfig, messages ...Message) ChatRequest {
	return ChatRequest{
		Model:       role.Model,
		Messages:    messages,
		Temperature: role.Temperature,
		TopP:        role.TopP,
		MaxTokens:   role.MaxTokens,
		Timeout:     time.Duration(role.TimeoutSec) * time.Second,
		MaxAttempts: role.MaxAttempts,
	}
}

type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamChunk is one increment of a streamed completion. The final chunk has
// Done set and carries the (estimated) usage; a chunk with Err is terminal.
type StreamChunk struct {
	Content string
	Done    bool
	Usage   Usage
	Err     error
}

type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

type Streamer interface {
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client talks to any OpenAI-compatible endpoint (OpenAI, Groq, local
// gateways) for chat completions and embeddings.
type Client struct {
	client         *openai.Client
	embeddingModel string
	batchSize      int
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(cfg config.LLMConfig) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      2,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.InitialDelay = 500 * time.Millisecond
	retryConfig.Logger = logger.GetLogger()
	retryConfig.ShouldRetry = isTransient

	logger.Info("LLM client initialized",
		zap.String("base_url", oc.BaseURL),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(oc),
		embeddingModel: cfg.EmbeddingModel,
		batchSize:      100,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// isTransient retries rate limits, server errors and transport failures but
// not bad requests or auth problems.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func (c *Client) attempts(n int) retry.Config {
	cfg := c.retryConfig
	if n <= 0 {
		n = 1
	}
	cfg.MaxAttempts = n
	return cfg
}

func toOpenAI(req ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}
}

func timeout(req ChatRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return defaultTimeout
}

func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(req))
	defer cancel()

	var result *ChatResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.attempts(req.MaxAttempts), func() error {
			resp, err := c.client.CreateChatCompletion(ctx, toOpenAI(req))
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			logger.Debug("LLM completion generated",
				zap.String("model", req.Model),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &ChatResponse{
				Content: resp.Choices[0].Message.Content,
				Model:   resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.Tokens(req.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

// Stream opens a streamed completion. Opening the stream is retried per
// MaxAttempts; once content flows nothing is retried. The channel is closed
// after a Done or Err chunk. Cancelling ctx aborts the upstream request.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout(req))

	oreq := toOpenAI(req)
	oreq.Stream = true

	var stream *openai.ChatCompletionStream
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.attempts(req.MaxAttempts), func() error {
			s, err := c.client.CreateChatCompletionStream(ctx, oreq)
			if err != nil {
				return fmt.Errorf("failed to open completion stream: %w", err)
			}
			stream = s
			return nil
		})
	})
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		var content strings.Builder
		send := func(chunk StreamChunk) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				usage := EstimateUsage(req.Messages, content.String())
				metrics.Tokens(req.Model, usage.PromptTokens, usage.CompletionTokens)
				send(StreamChunk{Done: true, Usage: usage})
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				// Deliver the terminal error even when ctx is done so the
				// reader always learns why the stream ended.
				out <- StreamChunk{Err: fmt.Errorf("completion stream failed: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			content.WriteString(delta)
			if !send(StreamChunk{Content: delta}) {
				out <- StreamChunk{Err: ctx.Err()}
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return retry.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
				}

				data := resp.Data
				sort.Slice(data, func(a, b int) bool { return data[a].Index < data[b].Index })
				for _, d := range data {
					embeddings = append(embeddings, d.Embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))
	return embeddings, nil
}

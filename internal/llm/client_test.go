package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/pkg/config"
)

type fakeAPI struct {
	calls     atomic.Int32
	failFirst int32
	status    int
	lastBody  atomic.Value
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.lastBody.Store(body)

		if f.status != 0 && n <= f.failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			fmt.Fprint(w, `{"error":{"message":"upstream unavailable","type":"server_error"}}`)
			return
		}

		if stream, _ := body["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{"Dear ", "Hiring ", "Manager"} {
				fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
				w.(http.Flusher).Flush()
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"LEVEL: MANAGER"}}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`)
	})

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var body struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		// Reverse order to check the client sorts by index.
		var items []string
		for i := len(body.Input) - 1; i >= 0; i-- {
			items = append(items, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,0.5]}`, i, len(body.Input[i])))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","data":[%s],"model":"text-embedding-3-small"}`, strings.Join(items, ","))
	})

	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	c := NewClient(config.LLMConfig{APIKey: "test", BaseURL: srv.URL + "/v1/", EmbeddingModel: "text-embedding-3-small"})
	c.retryConfig.InitialDelay = time.Millisecond
	c.retryConfig.MaxDelay = 2 * time.Millisecond
	return c
}

func TestCompleteSendsSamplingAndReturnsUsage(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	resp, err := c.Complete(context.Background(), ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []Message{System("sys"), User("analyze")},
		Temperature: 0.1,
		MaxTokens:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "LEVEL: MANAGER", resp.Content)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	body := api.lastBody.Load().(map[string]any)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.InDelta(t, 0.1, body["temperature"], 1e-6)
	assert.EqualValues(t, 1000, body["max_tokens"])
}

func TestCompleteRetriesServerErrorsUpToMaxAttempts(t *testing.T) {
	api := &fakeAPI{status: http.StatusServiceUnavailable, failFirst: 1}
	c := newTestClient(t, api)

	_, err := c.Complete(context.Background(), ChatRequest{Model: "m", Messages: []Message{User("x")}, MaxAttempts: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.calls.Load())
}

func TestCompleteSingleAttemptByDefault(t *testing.T) {
	api := &fakeAPI{status: http.StatusServiceUnavailable, failFirst: 10}
	c := newTestClient(t, api)

	_, err := c.Complete(context.Background(), ChatRequest{Model: "m", Messages: []Message{User("x")}})
	require.Error(t, err)
	assert.EqualValues(t, 1, api.calls.Load())
}

func TestCompleteDoesNotRetryBadRequest(t *testing.T) {
	api := &fakeAPI{status: http.StatusBadRequest, failFirst: 10}
	c := newTestClient(t, api)

	_, err := c.Complete(context.Background(), ChatRequest{Model: "m", Messages: []Message{User("x")}, MaxAttempts: 3})
	require.Error(t, err)
	assert.EqualValues(t, 1, api.calls.Load())
}

func TestStreamDeliversDeltasThenDone(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	ch, err := c.Stream(context.Background(), ChatRequest{Model: "gpt-4o", Messages: []Message{User("write now")}, TopP: 0.9})
	require.NoError(t, err)

	var text strings.Builder
	var last StreamChunk
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text.WriteString(chunk.Content)
		last = chunk
	}

	assert.Equal(t, "Dear Hiring Manager", text.String())
	assert.True(t, last.Done)
	assert.Equal(t, EstimateTokens("Dear Hiring Manager"), last.Usage.CompletionTokens)

	body := api.lastBody.Load().(map[string]any)
	assert.Equal(t, true, body["stream"])
	assert.InDelta(t, 0.9, body["top_p"], 1e-6)
}

func TestStreamOpenFailureIsReturned(t *testing.T) {
	api := &fakeAPI{status: http.StatusInternalServerError, failFirst: 10}
	c := newTestClient(t, api)

	_, err := c.Stream(context.Background(), ChatRequest{Model: "m", Messages: []Message{User("x")}})
	assert.Error(t, err)
}

func TestStreamWithCancelledContext(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Stream(ctx, ChatRequest{Model: "m", Messages: []Message{User("x")}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, api.calls.Load())
}

func TestEmbedBatchKeepsInputOrderAcrossBatches(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	c.batchSize = 2

	out, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, float32(1), out[0][0])
	assert.Equal(t, float32(2), out[1][0])
	assert.Equal(t, float32(3), out[2][0])
	assert.EqualValues(t, 2, api.calls.Load())
}

func TestNewRequestFromRole(t *testing.T) {
	req := NewRequest(config.RoleConfig{Model: "gpt-4o", Temperature: 0.7, TopP: 0.9, MaxTokens: 1000, TimeoutSec: 5, MaxAttempts: 1}, User("hi"))
	assert.Equal(t, "gpt-4o", req.Model)
	assert.Equal(t, 5*time.Second, req.Timeout)
	assert.Len(t, req.Messages, 1)
}

package handlers

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/assembly"
	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/retrieval"
	"github.com/coverletter-agent/backend/internal/scoring"
	"github.com/coverletter-agent/backend/pkg/config"
)

// chanConn is an in-memory websocket: frames sent by the test arrive on in,
// frames written by the handler are collected on out.
type chanConn struct {
	in  chan clientMessage
	out chan serverMessage
}

func newChanConn() *chanConn {
	return &chanConn{in: make(chan clientMessage), out: make(chan serverMessage, 64)}
}

func (c *chanConn) ReadJSON(v interface{}) error {
	msg, ok := <-c.in
	if !ok {
		return io.EOF
	}
	*v.(*clientMessage) = msg
	return nil
}

func (c *chanConn) WriteJSON(v interface{}) error {
	c.out <- v.(serverMessage)
	return nil
}

func (c *chanConn) waitFor(t *testing.T, typ string) serverMessage {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-c.out:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("no %q message", typ)
		}
	}
}

type neutralAnalyzer struct{}

func (neutralAnalyzer) Analyze(context.Context, string, string) (analysis.JobAnalysis, error) {
	return analysis.Neutral(), nil
}

type emptyRetriever struct{}

func (emptyRetriever) Retrieve(context.Context, analysis.JobAnalysis, string) ([]scoring.ScoredChunk, error) {
	return nil, nil
}

func (emptyRetriever) RetrieveQueries(context.Context, []retrieval.Query, analysis.JobAnalysis) ([]scoring.ScoredChunk, error) {
	return nil, nil
}

// stallingLLM sends one token and then holds the stream open until the
// request context is cancelled.
type stallingLLM struct {
	cancelled chan struct{}
}

func (l *stallingLLM) Stream(ctx context.Context, _ llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		select {
		case ch <- llm.StreamChunk{Content: "Dear hiring team,"}:
		case <-ctx.Done():
		}
		<-ctx.Done()
		close(l.cancelled)
		ch <- llm.StreamChunk{Err: ctx.Err()}
	}()
	return ch, nil
}

func (l *stallingLLM) Complete(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

func startStream(t *testing.T) (*generation.Session, *generation.Registry, *stallingLLM, *chanConn, chan struct{}) {
	t.Helper()
	model := &stallingLLM{cancelled: make(chan struct{})}
	orch := generation.NewOrchestrator(generation.Deps{
		Analyzer:  neutralAnalyzer{},
		Retriever: emptyRetriever{},
		LLM:       model,
	}, generation.Options{
		Assembly:   assembly.Config{CharBudget: 1000},
		Generation: config.GenerationConfig{OutputDir: t.TempDir()},
	})
	s := orch.NewSession(generation.Request{JobDescription: "Engineering manager", CompanyName: "Acme"})
	registry := generation.NewRegistry(time.Hour)
	registry.Add(s)

	conn := newChanConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWebSocketHandler(registry).serve(s.ID, conn)
	}()

	conn.in <- clientMessage{Type: "draft"}
	conn.waitFor(t, "delta")
	return s, registry, model, conn, done
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s did not happen", what)
	}
}

func TestWebSocketAbandonMidDraftStopsGeneration(t *testing.T) {
	s, registry, model, conn, done := startStream(t)
	defer close(conn.in)

	conn.in <- clientMessage{Type: "abandon"}
	msg := conn.waitFor(t, "abandoned")
	assert.Equal(t, generation.StateAbandoned, msg.State)

	waitClosed(t, model.cancelled, "upstream cancellation")
	waitClosed(t, done, "handler exit")

	assert.Equal(t, generation.StateAbandoned, s.State())
	assert.Empty(t, s.Current())
	_, ok := registry.Get(s.ID)
	assert.False(t, ok)
}

func TestWebSocketDisconnectMidDraftCancelsUpstream(t *testing.T) {
	s, registry, model, conn, done := startStream(t)

	close(conn.in)

	waitClosed(t, model.cancelled, "upstream cancellation")
	waitClosed(t, done, "handler exit")

	assert.Equal(t, generation.StateInit, s.State())
	assert.False(t, s.Busy())
	assert.Empty(t, s.Current())
	_, ok := registry.Get(s.ID)
	require.True(t, ok, "a dropped connection keeps the session for a reconnect")
}

func TestWebSocketRejectsSecondOperationWhileStreaming(t *testing.T) {
	_, _, _, conn, done := startStream(t)
	defer func() {
		close(conn.in)
		waitClosed(t, done, "handler exit")
	}()

	conn.in <- clientMessage{Type: "revise", Content: "shorter"}
	msg := conn.waitFor(t, "error")
	assert.Contains(t, msg.Error, "busy")
}

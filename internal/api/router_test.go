package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/assembly"
	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/internal/improver"
	"github.com/coverletter-agent/backend/internal/ingestion"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/retrieval"
	"github.com/coverletter-agent/backend/internal/scoring"
	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/internal/storage/sqlite"
	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/config"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, string, string) (analysis.JobAnalysis, error) {
	return analysis.Neutral(), nil
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(context.Context, analysis.JobAnalysis, string) ([]scoring.ScoredChunk, error) {
	return []scoring.ScoredChunk{{
		Chunk: vector.Chunk{ID: "c1", Text: "Grew the platform team to 15 engineers.", Metadata: vector.Metadata{Source: "resume.pdf", Type: vector.TypeResume}},
		Score: 80,
	}}, nil
}

func (stubRetriever) RetrieveQueries(context.Context, []retrieval.Query, analysis.JobAnalysis) ([]scoring.ScoredChunk, error) {
	return nil, nil
}

// echoLLM streams a fixed letter; the n-th call is numbered so revisions
// are distinguishable.
type echoLLM struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *echoLLM) Stream(context.Context, llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	e.mu.Lock()
	e.calls++
	n, fail := e.calls, e.fail
	e.mu.Unlock()

	ch := make(chan llm.StreamChunk, 3)
	if fail {
		ch <- llm.StreamChunk{Err: errors.New("model unavailable")}
	} else {
		ch <- llm.StreamChunk{Content: "Dear Acme team, "}
		ch <- llm.StreamChunk{Content: strings.Repeat("again ", n-1) + "I grew a platform team."}
		ch <- llm.StreamChunk{Done: true}
	}
	close(ch)
	return ch, nil
}

func (e *echoLLM) Complete(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not used")
}

type memApps struct {
	mu   sync.Mutex
	apps map[string]models.Application
}

func (m *memApps) SaveApplication(_ context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = *app
	return nil
}

func (m *memApps) GetApplication(_ context.Context, id string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return &app, nil
}

func (m *memApps) ListApplications(context.Context, int) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Application
	for _, a := range m.apps {
		out = append(out, a)
	}
	return out, nil
}

type stubIngester struct {
	files []string
}

func (s *stubIngester) ProcessDir(context.Context, string, bool) (*ingestion.Report, error) {
	return &ingestion.Report{Chunks: 7}, nil
}

func (s *stubIngester) ProcessFile(_ context.Context, _, source string, _ bool) (*ingestion.FileResult, error) {
	s.files = append(s.files, source)
	return &ingestion.FileResult{Path: source, Type: vector.TypeResume, Chunks: 2}, nil
}

type noDocs struct{}

func (noDocs) ListDocuments(context.Context) ([]models.Document, error) { return nil, nil }

type stubImprover struct {
	ready   bool
	applied []*improver.ProposedEdit
	err     error
}

func (s *stubImprover) Threshold() int { return 3 }

func (s *stubImprover) Ready() []feedback.Category {
	if s.ready {
		return []feedback.Category{feedback.Length}
	}
	return nil
}

func (s *stubImprover) MaybeSuggest(_ context.Context, c feedback.Category) (*improver.ProposedEdit, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !s.ready {
		return nil, nil
	}
	return &improver.ProposedEdit{Category: c, Count: 3, Suggestion: "Keep letters under 300 words."}, nil
}

func (s *stubImprover) Apply(_ context.Context, edit *improver.ProposedEdit) error {
	s.applied = append(s.applied, edit)
	return nil
}

type testServer struct {
	srv      *Server
	llm      *echoLLM
	apps     *memApps
	tracker  *feedback.Tracker
	improver *stubImprover
	ingester *stubIngester
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		llm:      &echoLLM{},
		apps:     &memApps{apps: make(map[string]models.Application)},
		tracker:  feedback.NewTracker(feedback.NewFileStore(t.TempDir() + "/history.json")),
		improver: &stubImprover{},
		ingester: &stubIngester{},
	}

	cfg := &config.Config{}
	cfg.Server.RateLimitPerMinute = 1000
	cfg.Server.BodyLimit = 4 * 1024 * 1024
	cfg.Ingestion.DataDir = t.TempDir()

	orch := generation.NewOrchestrator(generation.Deps{
		Analyzer:     stubAnalyzer{},
		Retriever:    stubRetriever{},
		LLM:          ts.llm,
		Applications: ts.apps,
		Feedback:     ts.tracker,
	}, generation.Options{
		Assembly:   assembly.Config{CharBudget: 15000, MaxPerSource: 3},
		Generation: config.GenerationConfig{OutputDir: t.TempDir()},
	})

	ts.srv = NewServer(cfg, Deps{
		Orchestrator: orch,
		Registry:     generation.NewRegistry(time.Hour),
		Ingester:     ts.ingester,
		Documents:    noDocs{},
		Applications: ts.apps,
		Feedback:     ts.tracker,
		Improver:     ts.improver,
	})
	t.Cleanup(func() { ts.srv.limiter.Stop() })
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.srv.App.Test(req, 5000)
	require.NoError(t, err)

	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	code, created := ts.do(t, "POST", "/api/v1/sessions", map[string]string{
		"job_description": "Engineering manager for the platform team",
		"company_name":    "Acme",
		"job_title":       "Engineering Manager",
	})
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "INIT", created["state"])
	id := created["id"].(string)

	code, drafted := ts.do(t, "POST", "/api/v1/sessions/"+id+"/draft", nil)
	require.Equal(t, fiber.StatusOK, code, drafted)
	assert.Equal(t, "DRAFTED", drafted["state"])
	assert.Equal(t, "Dear Acme team, I grew a platform team.", drafted["draft"])
	assert.Equal(t, []any{"resume.pdf"}, drafted["sources"])

	code, _ = ts.do(t, "POST", "/api/v1/sessions/"+id+"/draft", nil)
	assert.Equal(t, fiber.StatusConflict, code, "drafting twice is an invalid transition")

	code, revised := ts.do(t, "POST", "/api/v1/sessions/"+id+"/revise", map[string]string{"feedback": "make it shorter"})
	require.Equal(t, fiber.StatusOK, code, revised)
	assert.Equal(t, "Dear Acme team, I grew a platform team.", revised["previous"])
	assert.Equal(t, "Dear Acme team, again I grew a platform team.", revised["draft"])
	assert.EqualValues(t, 1, revised["pending_feedback"])

	code, saved := ts.do(t, "POST", "/api/v1/sessions/"+id+"/save", nil)
	require.Equal(t, fiber.StatusOK, code, saved)
	assert.Equal(t, id, saved["id"])
	assert.Equal(t, 1, ts.tracker.Count(feedback.Length))

	code, app := ts.do(t, "GET", "/api/v1/applications/"+id, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "Acme", app["company"])
	assert.EqualValues(t, 1, app["revisions"])

	code, _ = ts.do(t, "GET", "/api/v1/applications/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestDraftFailureIsReportedAsRetryable(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.fail = true

	_, created := ts.do(t, "POST", "/api/v1/sessions", map[string]string{"job_description": "Staff engineer"})
	id := created["id"].(string)

	code, body := ts.do(t, "POST", "/api/v1/sessions/"+id+"/draft", nil)
	assert.Equal(t, fiber.StatusBadGateway, code)
	assert.Equal(t, true, body["retryable"])

	_, view := ts.do(t, "GET", "/api/v1/sessions/"+id, nil)
	assert.Equal(t, "INIT", view["state"])
	assert.Empty(t, view["draft"])
}

func TestSessionNotFoundAndAbandon(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, "GET", "/api/v1/sessions/nope", nil)
	assert.Equal(t, fiber.StatusNotFound, code)

	_, created := ts.do(t, "POST", "/api/v1/sessions", map[string]string{"job_description": "Director of engineering"})
	id := created["id"].(string)

	code, _ = ts.do(t, "DELETE", "/api/v1/sessions/"+id, nil)
	assert.Equal(t, fiber.StatusNoContent, code)

	code, _ = ts.do(t, "GET", "/api/v1/sessions/"+id, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestReviseBeforeDraftConflicts(t *testing.T) {
	ts := newTestServer(t)
	_, created := ts.do(t, "POST", "/api/v1/sessions", map[string]string{"job_description": "Platform lead"})
	id := created["id"].(string)

	code, _ := ts.do(t, "POST", "/api/v1/sessions/"+id+"/revise", map[string]string{"feedback": "more detail"})
	assert.Equal(t, fiber.StatusConflict, code)
}

func TestFeedbackAndImprovements(t *testing.T) {
	ts := newTestServer(t)

	code, rec := ts.do(t, "POST", "/api/v1/feedback", map[string]string{"text": "Too long, cut it down"})
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "length", rec["category"])

	code, counts := ts.do(t, "GET", "/api/v1/feedback", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 3, counts["threshold"])

	code, _ = ts.do(t, "POST", "/api/v1/improvements/length/apply", nil)
	assert.Equal(t, fiber.StatusNotFound, code, "apply needs a suggestion first")

	code, none := ts.do(t, "POST", "/api/v1/improvements/length/suggest", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Nil(t, none["suggestion"])

	ts.improver.ready = true
	code, sug := ts.do(t, "POST", "/api/v1/improvements/length/suggest", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.NotNil(t, sug["suggestion"])

	code, _ = ts.do(t, "POST", "/api/v1/improvements/length/apply", nil)
	require.Equal(t, fiber.StatusOK, code)
	require.Len(t, ts.improver.applied, 1)
	assert.Equal(t, feedback.Length, ts.improver.applied[0].Category)

	code, _ = ts.do(t, "POST", "/api/v1/improvements/bogus/suggest", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	ts.improver.err = apperrors.Generation("summarize feedback", errors.New("timeout"))
	code, failed := ts.do(t, "POST", "/api/v1/improvements/length/suggest", nil)
	assert.Equal(t, fiber.StatusBadGateway, code)
	assert.Equal(t, true, failed["retryable"])
}

func TestDocumentUploadAndIngest(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "resume.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("Engineering manager"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := ts.srv.App.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"uploads/resume.md"}, ts.ingester.files)

	buf.Reset()
	w = multipart.NewWriter(&buf)
	part, err = w.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("png"))
	require.NoError(t, w.Close())
	req = httptest.NewRequest("POST", "/api/v1/documents", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err = ts.srv.App.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	code, report := ts.do(t, "POST", "/api/v1/documents/ingest", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 7, report["chunks"])
}

func TestSecurityHeadersAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.srv.App.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'none'")

	resp, err = ts.srv.App.Test(httptest.NewRequest("GET", "/ws/sessions/abc", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

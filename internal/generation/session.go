package generation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/assembly"
	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/internal/retrieval"
	"github.com/coverletter-agent/backend/internal/scoring"
	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/fsutil"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type State string

const (
	StateInit      State = "INIT"
	StateDrafted   State = "DRAFTED"
	StateRevising  State = "REVISING"
	StateSaved     State = "SAVED"
	StateAbandoned State = "ABANDONED"
)

func (s State) Terminal() bool { return s == StateSaved || s == StateAbandoned }

var (
	ErrBusy          = errors.New("session is busy with another operation")
	ErrInvalidState  = errors.New("operation not allowed in the current state")
	ErrEmptyFeedback = errors.New("feedback is empty")
	errAbandoned     = errors.New("session was abandoned")
	errEmptyLetter   = errors.New("model returned an empty letter")
)

type EventType string

const (
	EventStage EventType = "stage"
	EventDelta EventType = "delta"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one step of a streamed operation. Every stream ends with exactly
// one EventDone or EventError and is then closed.
type Event struct {
	Type    EventType `json:"type"`
	Stage   string    `json:"stage,omitempty"`
	Content string    `json:"content,omitempty"`
	Letter  string    `json:"letter,omitempty"`
	Err     error     `json:"-"`
}

type Saved struct {
	ID        string          `json:"id"`
	Dir       string          `json:"dir"`
	Path      string          `json:"path"`
	Letter    string          `json:"letter"`
	TotalCost float64         `json:"total_cost"`
	Costs     []llm.StageCost `json:"costs"`
}

const reviseInstruction = "Please revise the cover letter based on this feedback:\n\n%s\n\nProvide the complete revised cover letter (not just the changes)."

const enhanceInstruction = "You turn a user's short revision request for a cover letter into one clear, specific instruction for the writer. Keep the user's intent, do not add new requirements, and reply with the instruction only."

// Session is one application's lifecycle. Operations run one at a time;
// getters are safe to call at any point.
type Session struct {
	ID string

	req Request
	o   *Orchestrator

	mu        sync.Mutex
	state     State
	busy      bool
	cancel    context.CancelFunc
	createdAt time.Time
	touched   time.Time

	prepared  bool
	analysis  analysis.JobAnalysis
	scored    []scoring.ScoredChunk
	assembled assembly.Result

	draft     string
	previous  string
	revisions int
	pending   []feedback.Entry
	costs     *llm.CostTracker
	folder    string
	saved     *Saved
}

func (s *Session) begin(ctx context.Context, allowed, during State) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrBusy
	}
	if s.state != allowed {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, s.state)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancel = cancel
	s.state = during
	return ctx, nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state == StateRevising {
		s.state = StateDrafted
	}
	s.busy = false
	s.touched = s.o.now()
}

// commit applies fn unless the session was abandoned mid-operation.
func (s *Session) commit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAbandoned {
		return errAbandoned
	}
	fn()
	return nil
}

func emitter(ctx context.Context, out chan<- Event) func(Event) {
	return func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
}

// Prepare runs analysis, retrieval and assembly. It never fails on a stage
// error; those degrade to a neutral analysis or an empty context.
func (s *Session) Prepare(ctx context.Context) error {
	ctx, err := s.begin(ctx, StateInit, StateInit)
	if err != nil {
		return err
	}
	defer s.end()
	return s.prepare(ctx)
}

func (s *Session) prepare(ctx context.Context) error {
	s.mu.Lock()
	done := s.prepared
	s.mu.Unlock()
	if done {
		return nil
	}

	a, err := s.o.deps.Analyzer.Analyze(ctx, s.req.JobDescription, s.req.JobTitle)
	if err != nil {
		logger.Warn("Continuing with neutral job analysis", zap.String("session_id", s.ID), zap.Error(err))
	}

	scored, err := s.o.deps.Retriever.Retrieve(ctx, a, s.req.JobDescription)
	if err != nil {
		logger.Warn("Continuing without retrieved context", zap.String("session_id", s.ID), zap.Error(err))
		metrics.Fallback("empty_retrieval")
		scored = nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	res := assembly.Assemble(scored, s.o.opts.Assembly)
	metrics.ContextChars.Observe(float64(len([]rune(res.Text))))
	if res.Empty() {
		logger.Warn("No context passed the relevance floor", zap.String("session_id", s.ID), zap.Int("candidates", len(scored)))
		metrics.Fallback("empty_context")
	}

	s.mu.Lock()
	s.analysis = a
	s.scored = scored
	s.assembled = res
	s.prepared = true
	s.mu.Unlock()

	logger.Info("Session prepared",
		zap.String("session_id", s.ID),
		zap.String("level", string(a.Level)),
		zap.String("job_type", string(a.JobType)),
		zap.Int("chunks_used", len(res.Used)),
		zap.Int("chunks_skipped", res.Skipped),
	)
	return nil
}

// prompts renders the system prompt and the opening user turn. Custom context
// goes to the user turn when the template has no slot for it.
func (s *Session) prompts(a analysis.JobAnalysis, res assembly.Result, userTurn string) (string, string) {
	contextText := res.Text
	if res.Empty() {
		contextText = noContext
	}

	tmpl := s.o.systemTemplate()
	custom := s.req.customContext()
	system := renderSystem(tmpl, promptData{
		Context:        contextText,
		JobDescription: s.req.JobDescription,
		CompanyName:    s.req.CompanyName,
		JobTitle:       s.req.JobTitle,
		JobAnalysis:    a.Summary(),
		CustomContext:  custom,
	})
	if custom != "" && !strings.Contains(tmpl, "{custom_context}") {
		userTurn += "\n\n" + custom
	}
	return system, userTurn
}

// streamLetter forwards deltas and returns the full text once the stream
// completes. The upstream channel is always drained.
func (s *Session) streamLetter(ctx context.Context, role config.RoleConfig, stage string, emit func(Event), messages ...llm.Message) (string, error) {
	start := time.Now()
	text, err := s.doStream(ctx, role, stage, emit, messages)
	metrics.ObserveStage(stage, time.Since(start).Seconds(), err)
	return text, err
}

func (s *Session) doStream(ctx context.Context, role config.RoleConfig, stage string, emit func(Event), messages []llm.Message) (string, error) {
	ch, err := s.o.deps.LLM.Stream(ctx, llm.NewRequest(role, messages...))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	var usage llm.Usage
	var streamErr error
	completed := false
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			streamErr = chunk.Err
		case chunk.Done:
			completed = true
			usage = chunk.Usage
		default:
			b.WriteString(chunk.Content)
			emit(Event{Type: EventDelta, Stage: stage, Content: chunk.Content})
		}
	}

	if streamErr != nil {
		return "", streamErr
	}
	if !completed {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", errors.New("stream ended before completion")
	}

	s.costs.Record(stage, role.Model, usage)
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", errEmptyLetter
	}
	return text, nil
}

// Draft streams the first letter. The returned channel must be read until it
// is closed. The session moves to DRAFTED only after every stage succeeded.
func (s *Session) Draft(ctx context.Context) (<-chan Event, error) {
	ctx, err := s.begin(ctx, StateInit, StateInit)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)

		letter, err := s.runDraft(ctx, emitter(ctx, out))
		if err == nil {
			err = s.commit(func() { s.draft = letter; s.state = StateDrafted })
		}

		var ev Event
		if err != nil {
			err = apperrors.Generation("draft cover letter", err)
			logger.Error("Draft failed", zap.String("session_id", s.ID), zap.Error(err))
			ev = Event{Type: EventError, Err: err}
		} else {
			logger.Info("Draft ready", zap.String("session_id", s.ID), zap.Float64("cost", s.costs.Total()))
			ev = Event{Type: EventDone, Letter: letter}
		}
		s.end()
		out <- ev
	}()
	return out, nil
}

func (s *Session) runDraft(ctx context.Context, emit func(Event)) (string, error) {
	emit(Event{Type: EventStage, Stage: "prepare"})
	if err := s.prepare(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	a, res := s.analysis, s.assembled
	s.mu.Unlock()

	system, user := s.prompts(a, res, draftInstruction)

	emit(Event{Type: EventStage, Stage: "draft"})
	draft, err := s.streamLetter(ctx, s.o.opts.Roles.Draft, "draft", emit, llm.System(system), llm.User(user))
	if err != nil {
		return "", err
	}

	letter := draft
	if s.o.opts.Generation.TwoStage {
		emit(Event{Type: EventStage, Stage: "critique"})
		if letter, err = s.critique(ctx, draft); err != nil {
			return "", err
		}
	}
	return EnsureSignature(letter, s.o.opts.CandidateName), nil
}

func (s *Session) critique(ctx context.Context, draft string) (string, error) {
	role := s.o.opts.Roles.Critique
	prompt := renderCritique(s.o.critiqueTemplate(), draft, promptData{
		JobDescription: s.req.JobDescription,
		CompanyName:    s.req.CompanyName,
		JobTitle:       s.req.JobTitle,
	})

	start := time.Now()
	resp, err := s.o.deps.LLM.Complete(ctx, llm.NewRequest(role, llm.System(prompt), llm.User(critiqueRequest)))
	metrics.ObserveStage("critique", time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("critique failed: %w", err)
	}
	s.costs.Record("critique", role.Model, resp.Usage)

	refined := extractRefined(resp.Content, draft)
	if refined == draft {
		logger.Info("Critique returned no refined version, keeping draft", zap.String("session_id", s.ID))
	}
	return refined, nil
}

type revision struct {
	letter    string
	entry     feedback.Entry
	scored    []scoring.ScoredChunk
	assembled assembly.Result
}

// Revise regenerates the letter from feedback. On success the old draft
// becomes Previous; on failure the session keeps its draft unchanged. The
// returned channel must be read until it is closed.
func (s *Session) Revise(ctx context.Context, feedbackText string) (<-chan Event, error) {
	if strings.TrimSpace(feedbackText) == "" {
		return nil, ErrEmptyFeedback
	}
	ctx, err := s.begin(ctx, StateDrafted, StateRevising)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)

		rev, err := s.runRevise(ctx, feedbackText, emitter(ctx, out))
		if err == nil {
			err = s.commit(func() {
				s.previous = s.draft
				s.draft = rev.letter
				s.revisions++
				s.pending = append(s.pending, rev.entry)
				s.scored = rev.scored
				s.assembled = rev.assembled
			})
		}

		var ev Event
		if err != nil {
			err = apperrors.Generation("revise cover letter", err)
			logger.Error("Revision failed, keeping previous draft", zap.String("session_id", s.ID), zap.Error(err))
			ev = Event{Type: EventError, Err: err}
		} else {
			logger.Info("Revision accepted",
				zap.String("session_id", s.ID),
				zap.String("category", string(rev.entry.Category)),
			)
			ev = Event{Type: EventDone, Letter: rev.letter}
		}
		s.end()
		out <- ev
	}()
	return out, nil
}

func (s *Session) runRevise(ctx context.Context, text string, emit func(Event)) (*revision, error) {
	s.mu.Lock()
	draft, a, scored, res := s.draft, s.analysis, s.scored, s.assembled
	s.mu.Unlock()

	entry := feedback.Entry{
		Category:  s.o.classifier.Classify(text),
		RawText:   text,
		Company:   s.req.CompanyName,
		JobTitle:  s.req.JobTitle,
		Timestamp: s.o.now(),
	}

	instruction := text
	if s.o.opts.Generation.EnhanceFeedback {
		emit(Event{Type: EventStage, Stage: "enhance"})
		enhanced, err := s.enhance(ctx, text)
		if err != nil {
			logger.Warn("Using raw feedback", zap.String("session_id", s.ID), zap.Error(err))
			metrics.Fallback("raw_feedback")
		} else {
			entry.EnhancedText = enhanced
			instruction = enhanced
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.o.opts.Generation.ReretrieveOnFeedback {
		if concepts := missingConcepts(text, res.Text); len(concepts) > 0 {
			emit(Event{Type: EventStage, Stage: "retrieve", Content: strings.Join(concepts, ", ")})
			extra, err := s.o.deps.Retriever.RetrieveQueries(ctx, []retrieval.Query{
				{Facet: "feedback", Text: text},
				{Facet: "feedback", Text: strings.Join(concepts, " ")},
			}, a)
			if err != nil {
				logger.Warn("Feedback retrieval failed, keeping current context", zap.String("session_id", s.ID), zap.Error(err))
				metrics.Fallback("feedback_retrieval")
			} else {
				scored = mergeScored(scored, extra)
				res = assembly.Assemble(scored, s.o.opts.Assembly)
			}
		}
	}

	system, user := s.prompts(a, res, writeNow)

	emit(Event{Type: EventStage, Stage: "revise"})
	letter, err := s.streamLetter(ctx, s.o.opts.Roles.Revision, "revision", emit,
		llm.System(system),
		llm.User(user),
		llm.Assistant(draft),
		llm.User(fmt.Sprintf(reviseInstruction, instruction)),
	)
	if err != nil {
		return nil, err
	}

	return &revision{
		letter:    EnsureSignature(letter, s.o.opts.CandidateName),
		entry:     entry,
		scored:    scored,
		assembled: res,
	}, nil
}

func (s *Session) enhance(ctx context.Context, text string) (string, error) {
	role := s.o.opts.Roles.Enhance
	resp, err := s.o.deps.LLM.Complete(ctx, llm.NewRequest(role, llm.System(enhanceInstruction), llm.User(text)))
	if err != nil {
		return "", fmt.Errorf("feedback enhancement failed: %w", err)
	}
	s.costs.Record("enhance", role.Model, resp.Usage)

	out := strings.TrimSpace(resp.Content)
	if out == "" {
		return "", errors.New("feedback enhancement was empty")
	}
	return out, nil
}

// mergeScored unions two scored lists, keeping the higher score per chunk.
func mergeScored(current, extra []scoring.ScoredChunk) []scoring.ScoredChunk {
	byID := make(map[string]int, len(current)+len(extra))
	out := make([]scoring.ScoredChunk, 0, len(current)+len(extra))
	for _, list := range [][]scoring.ScoredChunk{current, extra} {
		for _, c := range list {
			if i, ok := byID[c.Chunk.ID]; ok {
				if c.Score > out[i].Score {
					out[i] = c
				}
				continue
			}
			byID[c.Chunk.ID] = len(out)
			out = append(out, c)
		}
	}
	scoring.Sort(out)
	return out
}

// Save writes the letter, records the application and flushes buffered
// feedback. A failure leaves the session DRAFTED so Save can be retried;
// every step is idempotent for the session.
func (s *Session) Save(ctx context.Context) (*Saved, error) {
	ctx, err := s.begin(ctx, StateDrafted, StateDrafted)
	if err != nil {
		return nil, err
	}
	defer s.end()

	start := time.Now()
	saved, err := s.save(ctx)
	if err == nil {
		err = s.commit(func() {
			s.state = StateSaved
			s.saved = saved
			s.pending = nil
		})
	}
	metrics.ObserveStage("save", time.Since(start).Seconds(), err)
	if err != nil {
		logger.Error("Save failed, draft kept", zap.String("session_id", s.ID), zap.Error(err))
		return nil, apperrors.Persistence("save application", err)
	}

	logger.Info("Cover letter saved", zap.String("session_id", s.ID), zap.String("path", saved.Path))
	return saved, nil
}

func (s *Session) save(ctx context.Context) (*Saved, error) {
	s.mu.Lock()
	if s.folder == "" {
		s.folder = FolderName(s.req.CompanyName, s.req.JobTitle, s.o.now())
	}
	letter, folder, a := s.draft, s.folder, s.analysis
	used := s.assembled.Used
	revisions := s.revisions
	pending := append([]feedback.Entry(nil), s.pending...)
	s.mu.Unlock()

	dir := filepath.Join(s.o.opts.Generation.OutputDir, folder)
	path := filepath.Join(dir, "cover_letter.txt")
	if err := fsutil.WriteFileAtomic(path, []byte(letter), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write cover letter: %w", err)
	}
	if s.req.JobDescription != "" {
		if err := fsutil.WriteFileAtomic(filepath.Join(dir, "job_description.txt"), []byte(s.req.JobDescription), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write job description: %w", err)
		}
	}

	costs := s.costs.Stages()
	if s.o.deps.Applications != nil {
		now := s.o.now()
		app := &models.Application{
			ID:         s.ID,
			Company:    s.req.CompanyName,
			JobTitle:   s.req.JobTitle,
			Level:      string(a.Level),
			JobType:    string(a.JobType),
			Letter:     letter,
			OutputPath: path,
			Revisions:  revisions,
			TotalCost:  s.costs.Total(),
			CreatedAt:  s.createdAt,
			UpdatedAt:  now,
		}
		for _, c := range used {
			app.Sources = append(app.Sources, models.ApplicationSource{
				ChunkID: c.Chunk.ID,
				Source:  c.Chunk.Metadata.Source,
				Score:   c.Score,
			})
		}
		for _, c := range costs {
			app.Costs = append(app.Costs, models.ApplicationCost{
				Stage:        c.Stage,
				Model:        c.Model,
				InputTokens:  c.InputTokens,
				OutputTokens: c.OutputTokens,
				Cost:         c.Cost,
			})
		}
		if err := s.o.deps.Applications.SaveApplication(ctx, app); err != nil {
			return nil, err
		}
	}

	if s.o.deps.Feedback != nil && len(pending) > 0 {
		if err := s.o.deps.Feedback.RecordAll(pending); err != nil {
			return nil, err
		}
	}

	return &Saved{
		ID:        s.ID,
		Dir:       dir,
		Path:      path,
		Letter:    letter,
		TotalCost: s.costs.Total(),
		Costs:     costs,
	}, nil
}

// Abandon ends the session without persisting anything and cancels an
// operation in flight.
func (s *Session) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, s.state)
	}
	s.state = StateAbandoned
	s.pending = nil
	if s.cancel != nil {
		s.cancel()
	}
	logger.Info("Session abandoned", zap.String("session_id", s.ID))
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Current is the working draft, empty before the first draft commits.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) Previous() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

func (s *Session) Revisions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisions
}

func (s *Session) PendingFeedback() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) Analysis() analysis.JobAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analysis
}

func (s *Session) Context() assembly.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assembled
}

func (s *Session) Request() Request { return s.req }

func (s *Session) Costs() []llm.StageCost { return s.costs.Stages() }

func (s *Session) TotalCost() float64 { return s.costs.Total() }

func (s *Session) Saved() *Saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touched
}

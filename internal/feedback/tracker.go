package feedback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// Tracker is the in-memory view of the feedback history. Every mutation is
// persisted before it returns; a failed write leaves memory as it was.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	history History
	now     func() time.Time
}

// NewTracker loads the history. An unreadable or corrupt history starts empty
// rather than failing, and the next successful write replaces it.
func NewTracker(store Store) *Tracker {
	h, err := store.Load()
	if err != nil {
		logger.Warn("Could not load feedback history, starting empty", zap.Error(err))
		h = History{}
	}
	return &Tracker{store: store, history: h, now: time.Now}
}

func (t *Tracker) newEntry(category Category, text string, opts []Option) Entry {
	e := Entry{Category: ParseCategory(string(category)), RawText: text, Timestamp: t.now()}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (t *Tracker) Record(category Category, text string, opts ...Option) error {
	return t.RecordAll([]Entry{t.newEntry(category, text, opts)})
}

// RecordAll appends entries in one write: either all are kept or none.
func (t *Tracker) RecordAll(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.history.clone()
	for _, e := range entries {
		e.Category = ParseCategory(string(e.Category))
		if e.Timestamp.IsZero() {
			e.Timestamp = t.now()
		}
		t.history[e.Category] = append(t.history[e.Category], e)
	}

	if err := t.store.Save(t.history); err != nil {
		t.history = prev
		logger.Error("Failed to persist feedback", zap.Error(err))
		return apperrors.Persistence("record feedback", err)
	}

	for _, e := range entries {
		metrics.FeedbackRecorded.WithLabelValues(string(e.Category)).Inc()
	}
	logger.Debug("Feedback recorded", zap.Int("entries", len(entries)))
	return nil
}

func (t *Tracker) Count(category Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history[category])
}

// Entries returns a copy of the category's entries, oldest first.
func (t *Tracker) Entries(category Category) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.history[category]...)
}

func (t *Tracker) Counts() map[Category]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Category]int, len(t.history))
	for cat, entries := range t.history {
		if len(entries) > 0 {
			out[cat] = len(entries)
		}
	}
	return out
}

// Clear drops a category's entries. Only the prompt improver calls this,
// after its prompt write has succeeded.
func (t *Tracker) Clear(category Category) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.history[category]
	if !ok {
		return nil
	}
	delete(t.history, category)

	if err := t.store.Save(t.history); err != nil {
		t.history[category] = prev
		logger.Error("Failed to clear feedback category", zap.String("category", string(category)), zap.Error(err))
		return apperrors.Persistence("clear feedback", err)
	}

	logger.Info("Feedback category cleared", zap.String("category", string(category)), zap.Int("entries", len(prev)))
	return nil
}

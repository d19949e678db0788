package feedback

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/pkg/apperrors"
)

type flakyStore struct {
	saved   History
	failing bool
}

func (s *flakyStore) Load() (History, error) { return History{}, nil }

func (s *flakyStore) Save(h History) error {
	if s.failing {
		return errors.New("disk full")
	}
	s.saved = h.clone()
	return nil
}

func TestTrackerPersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.json")

	tr := NewTracker(NewFileStore(path))
	require.NoError(t, tr.Record(Leadership, "add more leadership examples", WithJob("Acme", "EM")))
	require.NoError(t, tr.Record(Tone, "warmer please", WithEnhanced("Use a warmer, less formal tone")))

	reopened := NewTracker(NewFileStore(path))
	assert.Equal(t, 1, reopened.Count(Leadership))
	entries := reopened.Entries(Tone)
	require.Len(t, entries, 1)
	assert.Equal(t, "Use a warmer, less formal tone", entries[0].Text())
	assert.Equal(t, map[Category]int{Leadership: 1, Tone: 1}, reopened.Counts())

	lead := reopened.Entries(Leadership)[0]
	assert.Equal(t, "Acme", lead.Company)
	assert.False(t, lead.Timestamp.IsZero())
}

func TestTrackerCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o644))

	tr := NewTracker(NewFileStore(path))
	assert.Empty(t, tr.Counts())

	require.NoError(t, tr.Record(Length, "too long"))
	assert.Equal(t, 1, NewTracker(NewFileStore(path)).Count(Length))
}

func TestFileStoreCorruptIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := NewFileStore(path).Load()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTrackerFailedWriteRollsBack(t *testing.T) {
	store := &flakyStore{}
	tr := NewTracker(store)
	require.NoError(t, tr.Record(Leadership, "one"))

	store.failing = true
	err := tr.Record(Leadership, "two")
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Equal(t, 1, tr.Count(Leadership))

	err = tr.Clear(Leadership)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Equal(t, 1, tr.Count(Leadership))

	store.failing = false
	require.NoError(t, tr.Clear(Leadership))
	assert.Zero(t, tr.Count(Leadership))
	assert.Empty(t, store.saved[Leadership])
}

func TestRecordAllIsAllOrNothing(t *testing.T) {
	store := &flakyStore{failing: true}
	tr := NewTracker(store)

	err := tr.RecordAll([]Entry{{Category: Tone, RawText: "a"}, {Category: Length, RawText: "b"}})
	require.Error(t, err)
	assert.Empty(t, tr.Counts())

	store.failing = false
	require.NoError(t, tr.RecordAll([]Entry{{Category: "bogus", RawText: "a", Timestamp: time.Unix(10, 0)}}))
	entries := tr.Entries(Other)
	require.Len(t, entries, 1)
	assert.Equal(t, time.Unix(10, 0), entries[0].Timestamp)
}

func TestEntriesReturnsCopy(t *testing.T) {
	tr := NewTracker(&flakyStore{})
	require.NoError(t, tr.Record(Tone, "x"))

	got := tr.Entries(Tone)
	got[0].RawText = "mutated"
	assert.Equal(t, "x", tr.Entries(Tone)[0].RawText)
}

func TestTrackerConcurrentRecords(t *testing.T) {
	tr := NewTracker(NewFileStore(filepath.Join(t.TempDir(), "f.json")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tr.Record(Specificity, "more numbers"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, tr.Count(Specificity))
}

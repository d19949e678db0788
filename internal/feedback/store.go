package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/coverletter-agent/backend/pkg/fsutil"
)

// Store persists the whole history at once.
type Store interface {
	Load() (History, error)
	Save(History) error
}

// FileStore keeps the history as a JSON document replaced atomically on
// every save.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// ErrCorrupt wraps decode failures so callers can reset instead of abort.
var ErrCorrupt = errors.New("feedback history is corrupt")

func (s *FileStore) Load() (History, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read feedback history: %w", err)
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if h == nil {
		h = History{}
	}
	return h, nil
}

func (s *FileStore) Save(h History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode feedback history: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write feedback history: %w", err)
	}
	return nil
}

package improver

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coverletter-agent/backend/pkg/fsutil"
)

type PromptStore interface {
	Read() (string, error)
	// Backup saves content beside the prompt and returns the backup path.
	Backup(content string) (string, error)
	Write(content string) error
}

// FilePromptStore keeps the system prompt as a plain text file. Backups get a
// timestamp suffix so every prior version survives.
type FilePromptStore struct {
	Path string
	// Fallback is returned by Read while the file does not exist yet.
	Fallback string
	now      func() time.Time
}

func NewFilePromptStore(path, fallback string) *FilePromptStore {
	return &FilePromptStore{Path: path, Fallback: fallback, now: time.Now}
}

func (s *FilePromptStore) Read() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) && s.Fallback != "" {
		return s.Fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt: %w", err)
	}
	return string(data), nil
}

func (s *FilePromptStore) Backup(content string) (string, error) {
	path := fmt.Sprintf("%s.%s.backup", s.Path, s.now().Format("20060102-150405.000000"))
	if err := fsutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to back up system prompt: %w", err)
	}
	return path, nil
}

func (s *FilePromptStore) Write(content string) error {
	if err := fsutil.WriteFileAtomic(s.Path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write system prompt: %w", err)
	}
	return nil
}

package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Generation("draft", cause)

	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "draft: generation error: connection refused", err.Error())

	wrapped := fmt.Errorf("session abc: %w", err)
	var stage *StageError
	assert.True(t, errors.As(wrapped, &stage))
	assert.Equal(t, "draft", stage.Op)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Generation("critique", errors.New("503"))))
	assert.True(t, IsRetryable(Persistence("save", errors.New("disk full"))))
	assert.False(t, IsRetryable(Generation("draft", context.Canceled)))
	assert.False(t, IsRetryable(Analysis("analyze", errors.New("timeout"))))
	assert.False(t, IsRetryable(nil))
}

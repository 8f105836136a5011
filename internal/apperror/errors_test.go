package apperror

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsKeepsAppErrorsThroughWrapping(t *testing.T) {
	base := RateLimited(CodeMessageRateLimited, 3*time.Second)
	wrapped := fmt.Errorf("send: %w", base)

	got := As(wrapped)
	assert.Equal(t, KindRateLimited, got.Kind)
	assert.Equal(t, CodeMessageRateLimited, got.Code)
	assert.Equal(t, 3*time.Second, got.RetryAfter)
	assert.True(t, Is(wrapped, KindRateLimited))
}

func TestAsTurnsPlainErrorsIntoInternal(t *testing.T) {
	cause := errors.New("connection reset")
	got := As(cause)

	assert.Equal(t, KindInternal, got.Kind)
	assert.Equal(t, CodeInternal, got.Code)
	assert.ErrorIs(t, got, cause)
	assert.False(t, Is(cause, KindInternal))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "internal", Kind(99).String())
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnknownVersionError(t *testing.T) {
	err := &UnknownVersionError{ProjectID: "p1", Label: "v9", Valid: []string{"v1", "v2"}}

	assert.Contains(t, err.Error(), `"v9"`)
	assert.Contains(t, err.Error(), "v1, v2")
	assert.True(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("listing: %w", err)
	var uv *UnknownVersionError
	assert.True(t, errors.As(wrapped, &uv))
	assert.Equal(t, []string{"v1", "v2"}, uv.Valid)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrStoreUnavailable))
	assert.True(t, IsRetryable(fmt.Errorf("query: %w", ErrStoreUnavailable)))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(ErrMissingSession))
	assert.False(t, IsRetryable(nil))
}

func TestHelpers(t *testing.T) {
	assert.True(t, errors.Is(NotFound("project", "abc"), ErrNotFound))
	assert.Contains(t, NotFound("project", "abc").Error(), "project abc")

	err := Invalid("filename %q is empty", "")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

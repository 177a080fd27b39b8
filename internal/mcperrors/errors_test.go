package mcperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKindAndCode(t *testing.T) {
	err := New(NotFound, 404, "execution not found")
	assert.Equal(t, "NotFound: execution not found", err.Error())
	assert.True(t, Is(err, NotFound))
	assert.Equal(t, 404, err.Code)
}

func TestWrapIncludesCauseInMessageAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, 0, cause, "read execution")
	assert.Contains(t, err.Error(), "boom")
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestIsFalseForDifferentKind(t *testing.T) {
	err := New(Conflict, 0, "duplicate name")
	assert.False(t, Is(err, NotFound))
}

func TestOfKindReturnsInternalForPlainError(t *testing.T) {
	assert.Equal(t, Internal, OfKind(errors.New("plain")))
}

func TestIsUnwrapsThroughFmtErrorf(t *testing.T) {
	base := New(Timeout, 0, "deadline exceeded")
	wrapped := fmt.Errorf("call failed: %w", base)
	assert.True(t, Is(wrapped, Timeout))
}

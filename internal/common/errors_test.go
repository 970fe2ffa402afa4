package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateActiveError_MatchesSentinel(t *testing.T) {
	err := DuplicateActiveError{BurstID: "burst_1"}

	assert.True(t, errors.Is(err, ErrDuplicateActive))
	assert.True(t, errors.Is(fmt.Errorf("issue: %w", err), ErrDuplicateActive))
	assert.False(t, errors.Is(err, ErrorNotFound))
	assert.Contains(t, err.Error(), "burst_1")
}

func TestDuplicateActiveError_AsCarriesBurstID(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", DuplicateActiveError{BurstID: "burst_9"})

	var dup DuplicateActiveError
	if assert.True(t, errors.As(wrapped, &dup)) {
		assert.Equal(t, "burst_9", dup.BurstID)
	}
}

func TestDuplicateActiveError_EmptyID(t *testing.T) {
	assert.Equal(t, ErrDuplicateActive.Error(), DuplicateActiveError{}.Error())
}

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := Validation("question must not be empty")
	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.False(t, IsKind(err, KindExecution))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Execution("query failed on column %q", "revenue")
	outer := fmt.Errorf("probe p1: %w", inner)

	assert.Equal(t, KindExecution, KindOf(outer))
	assert.Contains(t, outer.Error(), "revenue")
}

func TestWrapPreservesChain(t *testing.T) {
	cause := errors.New("no such table: uploaded_data")
	err := Wrap(KindExecution, cause, "query execution failed")

	assert.Equal(t, KindExecution, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "no such table")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindExecution, nil, "ignored"))
}

func TestUnknownKind(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

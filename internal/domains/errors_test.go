package domains

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationFailed_DoesNotEchoValue(t *testing.T) {
	err := ValidationFailed("sourceIdentifier", "is too long (maximum 255 characters)")

	assert.Equal(t, KindValidationFailed, err.Kind)
	assert.Equal(t, "sourceIdentifier is too long (maximum 255 characters)", err.Message)
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("registry: %w", NotFound("mapping"))
	assert.Equal(t, KindNotFound, As(wrapped).Kind)

	assert.Equal(t, KindCancelled, As(context.Canceled).Kind)
	assert.Equal(t, KindTimeout, As(fmt.Errorf("query: %w", context.DeadlineExceeded)).Kind)

	internal := As(errors.New("pq: relation does not exist"))
	assert.Equal(t, KindInternal, internal.Kind)
	assert.Equal(t, "internal server error", internal.Message)

	assert.Nil(t, As(nil))
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(Conflict("dup"), KindConflict))
	assert.False(t, IsKind(errors.New("x"), KindConflict))
}

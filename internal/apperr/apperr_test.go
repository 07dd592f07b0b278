package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfThroughWrapping(t *testing.T) {
	err := fmt.Errorf("service: %w", NotFound("Article", 7))

	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, Is(err, KindNotFound))
	assert.Equal(t, http.StatusNotFound, KindOf(err).Status())
	assert.Equal(t, "Article with ID 7 not found", PublicMessage(err))
}

func TestPlainErrorsAreInternal(t *testing.T) {
	err := errors.New("connection reset by peer")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, KindOf(err).Status())
	assert.Equal(t, "An unexpected error occurred", PublicMessage(err))
}

func TestInternalDoesNotLeakCause(t *testing.T) {
	err := Internal("could not save", errors.New("pq: deadlock detected"))

	assert.Equal(t, "An unexpected error occurred", PublicMessage(err))
	assert.Contains(t, err.Error(), "deadlock")
}

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindUnauthenticated: http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindConflict:        http.StatusConflict,
		KindUnavailable:     http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Status(), kind.String())
	}
}

func TestNotFoundWithoutID(t *testing.T) {
	assert.Equal(t, "User not found", NotFound("User", nil).Message)
}

package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func TestIsMatchesByType(t *testing.T) {
	err := NotFound("message %s not found", "m1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))

	wrapped := fmt.Errorf("delete: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, "message m1 not found", err.Error())
}

func TestAsHidesUnknownErrors(t *testing.T) {
	assert.Nil(t, As(nil))
	assert.Equal(t, ErrInternal, As(errors.New("pebble: closed")))

	e := As(fmt.Errorf("wrap: %w", Conflict("already connected")))
	assert.Equal(t, TypeConflict, e.Type)
	assert.Equal(t, fasthttp.StatusConflict, e.Code)
}

package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatching(t *testing.T) {
	errExpired := New(CodeUnauthorized, "token has expired")

	t.Run("errors.Is matches on code and message", func(t *testing.T) {
		err := fmt.Errorf("verify: %w", New(CodeUnauthorized, "token has expired"))
		assert.ErrorIs(t, err, errExpired)
		assert.NotErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	})

	t.Run("wrap keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("redis down")
		err := Wrap(cause, CodeInternal, "failed to load session")
		assert.ErrorIs(t, err, cause)
		assert.True(t, HasCode(err, CodeInternal))
	})

	t.Run("uncoded errors classify as internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		require.Equal(t, "", apperrors.Code(nil))
	})

	t.Run("wrapped sentinel", func(t *testing.T) {
		err := apperrors.Wrapf(apperrors.ErrUserCreateFailed, "POST %s", "/users")
		require.Equal(t, "UserCreateFailed", apperrors.Code(err))
	})

	t.Run("specific cause wins over wrapping failure", func(t *testing.T) {
		err := fmt.Errorf("%w: %w", apperrors.ErrAuthExchangeFailure, apperrors.ErrInvalidTokenResponse)
		require.Equal(t, "InvalidTokenResponse", apperrors.Code(err))
	})

	t.Run("unknown error", func(t *testing.T) {
		require.Equal(t, "Internal", apperrors.Code(fmt.Errorf("boom")))
	})
}

func TestWrapf(t *testing.T) {
	require.NoError(t, apperrors.Wrapf(nil, "context"))

	err := apperrors.Wrapf(apperrors.ErrSessionNotFound, "session %s", "abc")
	require.EqualError(t, err, "session abc: session not found")
	require.True(t, apperrors.Is(err, apperrors.ErrSessionNotFound))
}

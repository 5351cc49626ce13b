package access_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/goliatone/go-access"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredErrorProperties(t *testing.T) {
	cases := []struct {
		name     string
		err      *goerrors.Error
		category goerrors.Category
		textCode string
		status   int
	}{
		{name: "already started", err: access.ErrAlreadyStarted, category: goerrors.CategoryConflict, textCode: access.TextCodeAlreadyStarted, status: http.StatusConflict},
		{name: "closed", err: access.ErrClosed, category: goerrors.CategoryConflict, textCode: access.TextCodeClosed, status: http.StatusConflict},
		{name: "profile not found", err: access.ErrProfileNotFound, category: goerrors.CategoryNotFound, textCode: access.TextCodeProfileNotFound, status: http.StatusNotFound},
		{name: "profile timeout", err: access.ErrProfileFetchTimeout, category: goerrors.CategoryOperation, textCode: access.TextCodeProfileFetchTimeout, status: http.StatusInternalServerError},
		{name: "session unavailable", err: access.ErrSessionUnavailable, category: goerrors.CategoryAuth, textCode: access.TextCodeSessionUnavailable, status: http.StatusUnauthorized},
		{name: "sign in failed", err: access.ErrSignInFailed, category: goerrors.CategoryAuth, textCode: access.TextCodeSignInFailed, status: http.StatusUnauthorized},
		{name: "sign out failed", err: access.ErrSignOutFailed, category: goerrors.CategoryAuth, textCode: access.TextCodeSignOutFailed, status: http.StatusInternalServerError},
		{name: "recipe not found", err: access.ErrRecipeNotFound, category: goerrors.CategoryNotFound, textCode: access.TextCodeRecipeNotFound, status: http.StatusNotFound},
		{name: "invalid recipe", err: access.ErrInvalidRecipe, category: goerrors.CategoryValidation, textCode: access.TextCodeInvalidRecipe, status: http.StatusBadRequest},
		{name: "invalid config", err: access.ErrInvalidConfig, category: goerrors.CategoryValidation, textCode: access.TextCodeInvalidConfig, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.category, tc.err.Category)
			assert.Equal(t, tc.textCode, tc.err.TextCode)
			assert.Equal(t, tc.status, access.StatusCode(tc.err))
		})
	}
}

func TestAsRichError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, access.AsRichError(nil))
	})

	t.Run("rich error passes through a wrap", func(t *testing.T) {
		wrapped := fmt.Errorf("loading: %w", access.ErrRecipeNotFound)

		rich := access.AsRichError(wrapped)
		require.NotNil(t, rich)
		assert.Equal(t, access.TextCodeRecipeNotFound, rich.TextCode)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		cause := errors.New("connection reset")

		rich := access.AsRichError(cause)
		require.NotNil(t, rich)
		assert.Equal(t, goerrors.CategoryInternal, rich.Category)
		assert.Equal(t, http.StatusInternalServerError, access.StatusCode(rich))
		assert.ErrorIs(t, rich, cause)
	})
}

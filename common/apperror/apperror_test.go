package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/common/apperror"
)

func TestKindStatusMapping(t *testing.T) {
	cases := []struct {
		kind   apperror.Kind
		status int
	}{
		{apperror.KindValidation, http.StatusBadRequest},
		{apperror.KindCompilation, http.StatusBadRequest},
		{apperror.KindToolExecution, http.StatusBadRequest},
		{apperror.KindSchemaValidation, http.StatusBadRequest},
		{apperror.KindNotFound, http.StatusNotFound},
		{apperror.KindAuthentication, http.StatusUnauthorized},
		{apperror.KindConflict, http.StatusConflict},
		{apperror.KindRateLimited, http.StatusTooManyRequests},
		{apperror.KindProvider, http.StatusBadGateway},
		{apperror.KindExecution, http.StatusInternalServerError},
		{apperror.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, apperror.New(tc.kind, "x").HTTPStatus(), string(tc.kind))
	}
}

func TestWithStatusOverridesKind(t *testing.T) {
	err := apperror.New(apperror.KindAuthentication, "wrong key").
		WithStatus(http.StatusForbidden)
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus())
}

func TestWrapKeepsCauseInChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperror.Wrap(apperror.KindProvider, cause, "openai call failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "provider_error: openai call failed: connection refused", err.Error())
	assert.Equal(t, "openai call failed: connection refused", apperror.MessageOf(err))
}

func TestAsFindsWrappedError(t *testing.T) {
	inner := apperror.NotFound("agent", "a1b2")
	wrapped := fmt.Errorf("loading graph: %w", inner)

	found, ok := apperror.As(wrapped)
	require.True(t, ok)
	assert.Equal(t, apperror.KindNotFound, found.Kind)
	assert.Equal(t, "agent not found: a1b2", found.Message)

	assert.True(t, apperror.IsKind(wrapped, apperror.KindNotFound))
	assert.False(t, apperror.IsKind(wrapped, apperror.KindValidation))
}

func TestFromCoercesUnknownErrors(t *testing.T) {
	plain := errors.New("boom")
	coerced := apperror.From(plain)
	assert.Equal(t, apperror.KindInternal, coerced.Kind)
	assert.ErrorIs(t, coerced, plain)

	already := apperror.Validation("name %s too long", "x")
	assert.Same(t, already, apperror.From(already))
}

func TestMessageOfPlainError(t *testing.T) {
	assert.Equal(t, "boom", apperror.MessageOf(errors.New("boom")))
	assert.Equal(t, "", apperror.MessageOf(nil))
}

func TestDetailsPassThrough(t *testing.T) {
	err := apperror.New(apperror.KindRateLimited, "workflow start limit reached").
		WithDetails(map[string]interface{}{"limit": 5, "retry_after_seconds": 12})
	assert.Equal(t, 5, err.Details["limit"])
}

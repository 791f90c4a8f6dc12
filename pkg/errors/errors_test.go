package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorString(t *testing.T) {
	err := NewNotFoundError("call")
	assert.Equal(t, "NOT_FOUND: call not found", err.Error())

	wrapped := WrapError(errors.New("redis timeout"), ErrCodeInternal, "failed to save record", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "INTERNAL_ERROR")
	assert.Contains(t, wrapped.Error(), "redis timeout")
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(cause, ErrCodeServiceUnavailable, "signaling unreachable", http.StatusServiceUnavailable)

	assert.ErrorIs(t, err, cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewConflictError("call already active").
		WithContext("call_id", "call-1").
		WithContext("user_id", "alice")

	assert.Equal(t, "call-1", err.Context["call_id"])
	assert.Equal(t, "alice", err.Context["user_id"])
}

func TestConstructors_HTTPStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewInvalidInputError("bad call type"), ErrCodeInvalidInput, http.StatusBadRequest},
		{NewNotFoundError("call"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("bad token"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("host role required"), ErrCodeForbidden, http.StatusForbidden},
		{NewConflictError("duplicate"), ErrCodeConflict, http.StatusConflict},
		{NewBusyError(), ErrCodeBusy, http.StatusConflict},
		{NewInvalidStateError("call not ringing"), ErrCodeInvalidState, http.StatusConflict},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("oops"), ErrCodeInternal, http.StatusInternalServerError},
		{NewServiceUnavailableError("redis down"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestGetAppError_FindsErrorInChain(t *testing.T) {
	app := NewBusyError()
	chained := fmt.Errorf("initiate call: %w", app)

	got := GetAppError(chained)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeBusy, got.Code)
}

func TestGetAppError_NilForPlainErrors(t *testing.T) {
	assert.Nil(t, GetAppError(nil))
	assert.Nil(t, GetAppError(errors.New("plain")))
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(NewInternalError("x")))
	assert.True(t, IsAppError(fmt.Errorf("wrap: %w", NewInternalError("x"))))
	assert.False(t, IsAppError(errors.New("plain")))
}

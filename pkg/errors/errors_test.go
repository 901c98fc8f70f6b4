package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"talkmix/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := NewInvalidInputError("bad layout")
	assert.Equal(t, "INVALID_INPUT: bad layout", err.Error())

	cause := stderrors.New("disk full")
	wrapped := WrapError(cause, ErrCodeInternal, "write failed", http.StatusInternalServerError)
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_WithContext(t *testing.T) {
	err := NewNotFoundError("stream").WithContext("stream_id", "a").WithContext("count", 2)
	assert.Equal(t, "stream not found", err.Message)
	assert.Equal(t, "a", err.Context["stream_id"])
	assert.Equal(t, 2, err.Context["count"])
}

func TestGetAppError_Unwraps(t *testing.T) {
	appErr := NewRateLimitError()
	wrapped := fmt.Errorf("handler: %w", appErr)
	assert.Same(t, appErr, GetAppError(wrapped))
	assert.Nil(t, GetAppError(stderrors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		err    error
		code   ErrorCode
		status int
	}{
		{fmt.Errorf("%w: a", domain.ErrStreamNotFound), ErrCodeNotFound, http.StatusNotFound},
		{domain.ErrSinkNotFound, ErrCodeNotFound, http.StatusNotFound},
		{domain.ErrStreamExists, ErrCodeConflict, http.StatusConflict},
		{domain.ErrAlreadyStarted, ErrCodeConflict, http.StatusConflict},
		{domain.ErrOutputInUse, ErrCodeConflict, http.StatusConflict},
		{domain.ErrNotRunning, ErrCodeNotRunning, http.StatusConflict},
		{fmt.Errorf("%w: bitrate", domain.ErrInvalidParameters), ErrCodeInvalidInput, http.StatusBadRequest},
		{domain.ErrInvalidCapacity, ErrCodeInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("apply: %w", domain.ErrEngineFailure), ErrCodeEngineFailure, http.StatusServiceUnavailable},
		{domain.ErrSinkFailure, ErrCodeSinkFailure, http.StatusBadGateway},
		{stderrors.New("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			appErr := FromDomain(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}

	assert.Nil(t, FromDomain(nil))
	existing := NewRateLimitError()
	assert.Same(t, existing, FromDomain(existing))
}

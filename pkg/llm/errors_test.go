package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/querysight/pkg/retry"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
		status    int
	}{
		{"unauthorized", errors.New("error, status code: 401, message: invalid api key"), ErrorTypeAuth, false, 401},
		{"anthropic key", errors.New("authentication_error: invalid x-api-key"), ErrorTypeAuth, false, 0},
		{"unknown model", errors.New("The model `gpt-9` does not exist"), ErrorTypeModel, false, 0},
		{"bad path", errors.New("status code: 404, page not found"), ErrorTypeEndpoint, false, 404},
		{"refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), ErrorTypeEndpoint, true, 0},
		{"rate limited", errors.New("status code: 429, rate limit reached"), ErrorTypeUnknown, true, 429},
		{"overloaded", errors.New("status code: 529, overloaded_error"), ErrorTypeEndpoint, true, 529},
		{"server error", errors.New("status code: 503, service unavailable"), ErrorTypeEndpoint, true, 503},
		{"deadline", fmt.Errorf("post: %w", errors.New("context deadline exceeded")), ErrorTypeEndpoint, false, 0},
		{"other", errors.New("something odd"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassifyError_KeepsClassifiedErrors(t *testing.T) {
	orig := NewError(ErrorTypeResponse, "bad json", false, nil)
	assert.Same(t, orig, ClassifyError(fmt.Errorf("wrapped: %w", orig)))
	assert.Nil(t, ClassifyError(nil))
}

func TestError_Message(t *testing.T) {
	err := &Error{Type: ErrorTypeEndpoint, Message: "server error", StatusCode: 503, Provider: "openai", Model: "gpt-4o"}
	assert.Equal(t, "endpoint HTTP 503 provider=openai model=gpt-4o server error", err.Error())
}

func TestError_RetryableForRetryPackage(t *testing.T) {
	assert.True(t, retry.IsRetryable(NewError(ErrorTypeEndpoint, "server error", true, nil)))
	assert.False(t, retry.IsRetryable(NewError(ErrorTypeAuth, "denied", false, nil)))
	assert.True(t, IsRetryable(fmt.Errorf("x: %w", NewError(ErrorTypeEndpoint, "", true, nil))))
	assert.Equal(t, ErrorTypeAuth, GetErrorType(NewError(ErrorTypeAuth, "", false, nil)))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRequestErrorRetryable(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := &RequestError{StatusCode: tt.status}
			assert.Equal(t, tt.retryable, err.Retryable())
		})
	}
}

func TestRequestErrorMessage(t *testing.T) {
	assert.Equal(t, "request failed: http 422: field required", (&RequestError{StatusCode: 422, Detail: "field required"}).Error())
	assert.Equal(t, "request failed: http 404: Not Found", (&RequestError{StatusCode: 404}).Error())
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"cancelled", fmt.Errorf("wrapped: %w", context.Canceled), "Cancelled."},
		{"unreachable", &UnreachableError{Op: "GET /health", Err: errors.New("dial tcp: refused")}, "Cannot reach the agent service. Check the base URL and that the backend is running."},
		{"request detail", &RequestError{StatusCode: 400, Detail: "repo_url is required"}, "request failed: http 400: repo_url is required"},
		{"auth", &RequestError{StatusCode: 401, Detail: "missing key"}, "The backend rejected the API key: request failed: http 401: missing key"},
		{"timed out", &StreamAbortedError{TimedOut: true, Cause: ErrIdleTimeout}, "The stream timed out before the analysis finished. Partial results are kept; try async mode for large repositories."},
		{"closed", &StreamAbortedError{Cause: errors.New("unexpected EOF")}, "The connection closed before the analysis finished. Partial results are kept."},
		{"agent", &AgentError{Message: "clone failed"}, "Agent reported an error: clone failed"},
		{"incomplete", &IncompleteError{Iterations: 10}, "Warning: agent stopped after 10 iterations without completing."},
		{"fallback", errors.New("something odd"), "something odd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestStreamAbortedUnwrap(t *testing.T) {
	err := fmt.Errorf("analysis: %w", &StreamAbortedError{TimedOut: true, Cause: ErrIdleTimeout})
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.NotErrorIs(t, err, ErrUnreachable)
}

func TestFrameErrorTruncatesOnRuneBoundary(t *testing.T) {
	// 79 ASCII bytes put the two-byte "ü" across the cut
	payload := strings.Repeat("a", 79) + strings.Repeat("ü", 10)
	err := &FrameError{Payload: payload, Err: errors.New("bad json")}

	msg := err.Error()
	assert.True(t, utf8.ValidString(msg), msg)
	assert.Contains(t, msg, strings.Repeat("a", 79)+"...")

	assert.Equal(t, "short", truncate("short", 80))
	assert.Equal(t, "ab...", truncate("abüc", 3))
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// ErrUnreachable matches every *UnreachableError.
var ErrUnreachable = errors.New("backend unreachable")

// ErrIdleTimeout is the cause of a stream aborted by the idle timer.
var ErrIdleTimeout = errors.New("no data received before idle timeout")

// UnreachableError reports a connectivity failure, or an unhealthy /health reply.
type UnreachableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UnreachableError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("backend unreachable (%s): %v", e.Op, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("backend unreachable (%s): http %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("backend unreachable (%s)", e.Op)
	}
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

// RequestError is a non-success HTTP response. Detail comes from the JSON error
// body when the backend sent one, else the status text.
type RequestError struct {
	StatusCode int
	Detail     string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	detail := strings.TrimSpace(e.Detail)
	if detail == "" {
		detail = http.StatusText(e.StatusCode)
	}
	if detail == "" {
		return fmt.Sprintf("request failed: http %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: http %d: %s", e.StatusCode, detail)
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// FrameError is a single SSE frame that could not be decoded. Streams skip
// these; the error only reaches the debug log.
type FrameError struct {
	Payload string
	Err     error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed stream frame %q: %v", truncate(e.Payload, 80), e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// StreamAbortedError reports a stream that ended before a done or error frame.
type StreamAbortedError struct {
	TimedOut bool
	Cause    error
}

func (e *StreamAbortedError) Error() string {
	msg := "stream closed before completion"
	if e.TimedOut {
		msg = "stream timed out before completion"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *StreamAbortedError) Unwrap() error { return e.Cause }

// AgentError is an error the backend reported in-band: an error frame, the
// error field of a done frame, or the error field of a turn result.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}

// IncompleteError marks a turn that stopped before the agent finished, usually
// because the iteration budget ran out. The result is still usable.
type IncompleteError struct {
	Iterations int
}

func (e *IncompleteError) Error() string {
	if e.Iterations > 0 {
		return fmt.Sprintf("agent stopped after %d iterations without completing", e.Iterations)
	}
	return "agent stopped without completing"
}

// UserMessage turns an error into the short line shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var reqErr *RequestError
	var agentErr *AgentError
	var aborted *StreamAbortedError
	var incomplete *IncompleteError

	switch {
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, ErrUnreachable):
		return "Cannot reach the agent service. Check the base URL and that the backend is running."
	case errors.As(err, &reqErr):
		if reqErr.StatusCode == http.StatusUnauthorized || reqErr.StatusCode == http.StatusForbidden {
			return "The backend rejected the API key: " + reqErr.Error()
		}
		return reqErr.Error()
	case errors.As(err, &aborted):
		if aborted.TimedOut {
			return "The stream timed out before the analysis finished. Partial results are kept; try async mode for large repositories."
		}
		return "The connection closed before the analysis finished. Partial results are kept."
	case errors.As(err, &agentErr):
		return "Agent reported an error: " + agentErr.Message
	case errors.As(err, &incomplete):
		return "Warning: " + incomplete.Error() + "."
	default:
		return err.Error()
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

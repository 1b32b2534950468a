package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseHandler writes each frame, flushing after every write, then optionally
// holds the connection open until the request is cancelled.
func sseHandler(frames []string, hold bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}
		for _, f := range frames {
			_, _ = fmt.Fprint(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if hold {
			<-r.Context().Done()
		}
	}
}

func TestStreamAgentTurnSkipsMalformedFrame(t *testing.T) {
	c := newTestClient(t, sseHandler([]string{
		"data: {\"type\":\"start\"}\n\n",
		"data: {\"type\":\"token\",\"content\":\"Hel\"}\n\n",
		"data: {not json at all\n\n",
		"data: {\"type\":\"token\",\"content\":\"lo\"}\n\n",
		"data: {\"type\":\"done\",\"text\":\"Hello\",\"completed\":true}\n\n",
	}, false))

	var types []EventType
	var text string
	err := c.StreamAgentTurn(context.Background(), AgentRequest{Task: "hi"}, func(ev Event) error {
		types = append(types, ev.Type())
		if tok, ok := ev.(*TokenEvent); ok {
			text += tok.Content
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []EventType{EventStart, EventToken, EventToken, EventDone}, types)
	assert.Equal(t, "Hello", text)
}

func TestStreamAgentTurnCallbackError(t *testing.T) {
	c := newTestClient(t, sseHandler([]string{
		"data: {\"type\":\"start\"}\n\n",
		"data: {\"type\":\"token\",\"content\":\"x\"}\n\n",
	}, true))

	stop := errors.New("stop")
	calls := 0
	err := c.StreamAgentTurn(context.Background(), AgentRequest{Task: "hi"}, func(ev Event) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenStreamRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"detail":"invalid API key"}`))
	}))

	_, err := c.StreamAnalyze(context.Background(), AnalyzeRequest{RepoURL: "https://example.com/r"})
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "invalid API key", reqErr.Detail)
}

func TestEventStreamEOFWithoutDone(t *testing.T) {
	c := newTestClient(t, sseHandler([]string{
		"data: {\"type\":\"tool_start\",\"tool\":\"clone_repository\",\"phase\":\"clone\"}\n\n",
	}, false))

	s, err := c.StreamFullAnalysis(context.Background(), FullAnalysisRequest{RepoURL: "https://example.com/r"})
	require.NoError(t, err)
	defer s.Close()

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, EventToolStart, ev.Type())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEventStreamIdleTimeout(t *testing.T) {
	c := newTestClient(t, sseHandler([]string{
		"data: {\"type\":\"start\"}\n\n",
	}, true), WithIdleTimeout(50*time.Millisecond))

	s, err := c.StreamVerifiedAnalyze(context.Background(), VerifiedAnalyzeRequest{RepoURL: "https://example.com/r", Verify: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Next()
	var aborted *StreamAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.True(t, aborted.TimedOut)
	assert.ErrorIs(t, err, ErrIdleTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEventStreamHeartbeatsKeepAlive(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = fmt.Fprint(w, "data: {\"type\":\"heartbeat\"}\n\n")
			flusher.Flush()
			time.Sleep(30 * time.Millisecond)
		}
		_, _ = fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
	}), WithIdleTimeout(80*time.Millisecond))

	s, err := c.OpenStream(context.Background(), "/v2/agent/stream", AgentRequest{Task: "x"})
	require.NoError(t, err)

	var last Event
	require.NoError(t, s.Each(func(ev Event) error {
		last = ev
		return nil
	}))
	assert.Equal(t, EventDone, last.Type())
}

func TestEventStreamCommentsKeepAlive(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, "data: {\"type\":\"start\"}\n\n")
		flusher.Flush()
		for i := 0; i < 4; i++ {
			time.Sleep(30 * time.Millisecond)
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
		_, _ = fmt.Fprint(w, "data: {\"type\":\"done\"}\n\n")
	}), WithIdleTimeout(80*time.Millisecond))

	s, err := c.OpenStream(context.Background(), "/v2/agent/stream", AgentRequest{Task: "x"})
	require.NoError(t, err)

	var last Event
	require.NoError(t, s.Each(func(ev Event) error {
		last = ev
		return nil
	}))
	assert.Equal(t, EventDone, last.Type())
}

func TestEventStreamCancel(t *testing.T) {
	c := newTestClient(t, sseHandler([]string{"data: {\"type\":\"start\"}\n\n"}, true))

	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.StreamAnalyze(ctx, AnalyzeRequest{RepoURL: "https://example.com/r"})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Next()
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = s.Next()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventStreamClose(t *testing.T) {
	c := newTestClient(t, sseHandler(nil, true))

	s, err := c.StreamAnalyze(context.Background(), AnalyzeRequest{RepoURL: "https://example.com/r"})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.Close()
	}()
	_, err = s.Next()
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.NoError(t, s.Close())
}

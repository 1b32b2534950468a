package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"agentdash/config"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = errors.New("event stream closed")

// EventStream is a pull-based sequence of events from one SSE response.
// Next and Close may be called from different goroutines.
type EventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	dec    *Decoder
	op     string

	idle     time.Duration
	timer    *time.Timer
	timedOut atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
	skipped   int
	frames    int
}

// OpenStream POSTs body to path and returns the event stream of the response.
// A non-2xx status is returned as *RequestError before any event is read.
func (c *Client) OpenStream(ctx context.Context, path string, body any) (*EventStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(streamCtx, http.MethodPost, path, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	op := "POST " + path
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Stream] open %s (idle timeout %s)", op, c.idleTimeout)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, transportError(ctx, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := responseError(resp)
		resp.Body.Close()
		cancel()
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Stream] %s rejected: %v", op, reqErr)
		}
		return nil, reqErr
	}

	s := &EventStream{
		ctx:    ctx,
		cancel: cancel,
		body:   resp.Body,
		dec:    NewDecoder(resp.Body),
		op:     op,
		idle:   c.idleTimeout,
	}
	if s.idle > 0 {
		s.timer = time.AfterFunc(s.idle, s.expire)
		s.dec.OnComment(s.touch)
	}
	return s, nil
}

// touch pushes the idle deadline out after any traffic.
func (s *EventStream) touch() {
	if s.timer != nil {
		s.timer.Reset(s.idle)
	}
}

func (s *EventStream) expire() {
	s.timedOut.Store(true)
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Stream] %s idle for %s, aborting", s.op, s.idle)
	}
	s.cancel()
}

// Next blocks until the next decodable event. It returns io.EOF when the
// server closes the body cleanly; interpreting a missing done frame is up to
// the caller. Malformed frames are logged and skipped.
func (s *EventStream) Next() (Event, error) {
	for {
		payload, err := s.dec.Next()
		if err != nil {
			return nil, s.readError(err)
		}
		s.frames++
		s.touch()

		ev, err := DecodeEvent(payload)
		if err != nil {
			s.skipped++
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Stream] skipping frame: %v", err)
			}
			continue
		}
		return ev, nil
	}
}

func (s *EventStream) readError(err error) error {
	switch {
	case s.closed.Load():
		return ErrStreamClosed
	case s.timedOut.Load():
		return &StreamAbortedError{TimedOut: true, Cause: ErrIdleTimeout}
	case errors.Is(s.ctx.Err(), context.DeadlineExceeded):
		return &StreamAbortedError{TimedOut: true, Cause: s.ctx.Err()}
	case s.ctx.Err() != nil:
		return s.ctx.Err()
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Stream] %s read failed after %d frames: %v", s.op, s.frames, err)
		}
		return &StreamAbortedError{Cause: err}
	}
}

// Each calls fn for every event in arrival order until the body ends, fn
// returns an error, or the stream fails. The stream is closed on return.
func (s *EventStream) Each(fn func(Event) error) error {
	defer s.Close()
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Skipped is the number of malformed frames dropped so far.
func (s *EventStream) Skipped() int {
	return s.skipped
}

// Close releases the response body and stops the idle timer. Safe to call
// more than once.
func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.timer != nil {
			s.timer.Stop()
		}
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// StreamAgentTurn runs one agent turn over SSE, calling onEvent synchronously
// for each event. It returns nil at end of body without interpreting done.
func (c *Client) StreamAgentTurn(ctx context.Context, req AgentRequest, onEvent func(Event) error) error {
	s, err := c.OpenStream(ctx, "/v2/agent/stream", req)
	if err != nil {
		return err
	}
	return s.Each(onEvent)
}

func (c *Client) StreamAnalyze(ctx context.Context, req AnalyzeRequest) (*EventStream, error) {
	return c.OpenStream(ctx, "/v3/analyze/stream", req)
}

func (c *Client) StreamVerifiedAnalyze(ctx context.Context, req VerifiedAnalyzeRequest) (*EventStream, error) {
	return c.OpenStream(ctx, "/v4/analyze/verified/stream", req)
}

func (c *Client) StreamFullAnalysis(ctx context.Context, req FullAnalysisRequest) (*EventStream, error) {
	if req.EvolutionFocus == nil {
		req.EvolutionFocus = []string{}
	}
	return c.OpenStream(ctx, "/v5/analyze/full/stream", req)
}

package model

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"agentdash/client"
	"agentdash/config"
)

// ErrBusy is returned when a turn is submitted while another is in flight.
var ErrBusy = errors.New("a turn is already in progress")

// ErrEmptyTask is returned for blank input.
var ErrEmptyTask = errors.New("task cannot be empty")

// TurnRunner is the part of *client.Client a conversation needs.
type TurnRunner interface {
	RunAgentTurn(ctx context.Context, req client.AgentRequest) (client.AgentResult, error)
	StreamAgentTurn(ctx context.Context, req client.AgentRequest, onEvent func(client.Event) error) error
}

// Conversation owns the message history and session id of one chat. Messages
// are append-only; only the newest one may be patched.
type Conversation struct {
	runner        TurnRunner
	maxIterations int

	mu        sync.Mutex
	messages  []Message
	sessionID string
	busy      bool

	subs    map[int]func([]Message)
	nextSub int
}

func NewConversation(runner TurnRunner) *Conversation {
	return &Conversation{
		runner: runner,
		subs:   make(map[int]func([]Message)),
	}
}

// SetMaxIterations caps agent iterations per turn. Zero leaves it to the backend.
func (c *Conversation) SetMaxIterations(n int) {
	c.mu.Lock()
	c.maxIterations = n
	c.mu.Unlock()
}

func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID resumes an existing backend session.
func (c *Conversation) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = strings.TrimSpace(id)
	c.mu.Unlock()
}

func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Reset clears the history and forgets the session id.
func (c *Conversation) Reset() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.messages = nil
	c.sessionID = ""
	c.mu.Unlock()

	c.notify()
	return nil
}

// Subscribe registers fn to receive the history after every change.
func (c *Conversation) Subscribe(fn func([]Message)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Conversation) notify() {
	c.mu.Lock()
	snap := slices.Clone(c.messages)
	ids := slices.Sorted(maps.Keys(c.subs))
	fns := make([]func([]Message), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// PatchLast applies fn to the newest message.
func (c *Conversation) PatchLast(fn func(*Message)) error {
	c.mu.Lock()
	if len(c.messages) == 0 {
		c.mu.Unlock()
		return errors.New("no message to patch")
	}
	fn(&c.messages[len(c.messages)-1])
	c.mu.Unlock()

	c.notify()
	return nil
}

// SetRendered caches the rendered form of message id. Content is untouched.
func (c *Conversation) SetRendered(id, rendered string) bool {
	c.mu.Lock()
	found := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Rendered = rendered
			found = true
			break
		}
	}
	c.mu.Unlock()

	if found {
		c.notify()
	}
	return found
}

func (c *Conversation) begin(task string) (client.AgentRequest, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return client.AgentRequest{}, ErrEmptyTask
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return client.AgentRequest{}, ErrBusy
	}
	c.busy = true
	c.messages = append(c.messages, newMessage(RoleUser, task))
	req := client.AgentRequest{
		Task:          task,
		SessionID:     c.sessionID,
		MaxIterations: c.maxIterations,
	}
	c.mu.Unlock()

	c.notify()
	return req, nil
}

func (c *Conversation) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// Submit runs one turn. On success the history gains the user message then
// the assistant message. A transport failure keeps the user message, adds no
// reply and returns the error. An in-band warning (*client.AgentError,
// *client.IncompleteError) is returned alongside the stored reply.
func (c *Conversation) Submit(ctx context.Context, task string) (Message, error) {
	req, err := c.begin(task)
	if err != nil {
		return Message{}, err
	}
	defer c.end()

	res, err := c.runner.RunAgentTurn(ctx, req)
	if err != nil {
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Conversation] turn failed: %v", err)
		}
		return Message{}, err
	}

	reply := newMessage(RoleAssistant, res.Text)
	reply.ToolCalls = res.ToolCalls
	reply.Iterations = res.Iterations
	reply.SessionID = res.SessionID
	reply.Completed = res.Completed
	reply.Error = res.Error

	c.mu.Lock()
	if res.SessionID != "" {
		c.sessionID = res.SessionID
	}
	c.messages = append(c.messages, reply)
	c.mu.Unlock()

	c.notify()
	return reply, res.Warning()
}

// SubmitStream runs one turn over SSE. The assistant message is appended when
// the first event arrives and patched as tokens stream in. onEvent, if set,
// sees every event after it has been folded into the message.
//
// A stream that ends without a done or error frame keeps the partial reply
// and returns *client.StreamAbortedError.
func (c *Conversation) SubmitStream(ctx context.Context, task string, onEvent func(client.Event)) (Message, error) {
	req, err := c.begin(task)
	if err != nil {
		return Message{}, err
	}
	defer c.end()

	var (
		reply    Message
		started  bool
		terminal bool
		inBand   error
		text     strings.Builder
	)

	patch := func(fn func(*Message)) {
		c.mu.Lock()
		if !started {
			c.messages = append(c.messages, newMessage(RoleAssistant, ""))
			started = true
		}
		last := &c.messages[len(c.messages)-1]
		fn(last)
		reply = *last
		c.mu.Unlock()
		c.notify()
	}

	streamErr := c.runner.StreamAgentTurn(ctx, req, func(ev client.Event) error {
		switch e := ev.(type) {
		case *client.StartEvent:
			patch(func(m *Message) {
				if e.SessionID != "" {
					m.SessionID = e.SessionID
				}
			})
		case *client.TokenEvent:
			text.WriteString(e.Content)
			patch(func(m *Message) { m.Content = text.String() })
		case *client.ToolStartEvent:
			patch(func(m *Message) {
				m.ToolCalls = append(m.ToolCalls, client.ToolCall{Name: e.Tool, Arguments: e.Arguments})
			})
		case *client.ErrorEvent:
			terminal = true
			inBand = &client.AgentError{Message: e.Message}
			patch(func(m *Message) { m.Error = e.Message })
		case *client.DoneEvent:
			terminal = true
			patch(func(m *Message) {
				if e.Message != "" && m.Content == "" {
					m.Content = e.Message
				}
				if len(e.ToolCalls) > 0 {
					m.ToolCalls = e.ToolCalls
				}
				if e.SessionID != "" {
					m.SessionID = e.SessionID
				}
				if e.Iterations > 0 {
					m.Iterations = e.Iterations
				}
				m.Completed = e.Completed == nil || *e.Completed
				m.Error = e.Error
			})
			inBand = reply.Warning()
		}
		if onEvent != nil {
			onEvent(ev)
		}
		return nil
	})

	if reply.SessionID != "" {
		c.mu.Lock()
		c.sessionID = reply.SessionID
		c.mu.Unlock()
	}

	if streamErr != nil && !terminal {
		if started {
			patch(func(m *Message) {
				if m.Error == "" {
					m.Error = client.UserMessage(streamErr)
				}
			})
		}
		return reply, streamErr
	}
	if !terminal {
		aborted := &client.StreamAbortedError{Cause: errors.New("stream ended without a done frame")}
		if started {
			patch(func(m *Message) { m.Error = client.UserMessage(aborted) })
		}
		return reply, aborted
	}
	return reply, inBand
}

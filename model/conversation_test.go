package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentdash/client"
)

type fakeRunner struct {
	requests []client.AgentRequest
	result   client.AgentResult
	err      error
	events   []client.Event
	block    chan struct{}
}

func (f *fakeRunner) RunAgentTurn(ctx context.Context, req client.AgentRequest) (client.AgentResult, error) {
	f.requests = append(f.requests, req)
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

func (f *fakeRunner) StreamAgentTurn(ctx context.Context, req client.AgentRequest, onEvent func(client.Event) error) error {
	f.requests = append(f.requests, req)
	for _, ev := range f.events {
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	return f.err
}

func TestSubmitScenario(t *testing.T) {
	runner := &fakeRunner{result: client.AgentResult{
		Text:       "123 * 456 = 56088",
		ToolCalls:  []client.ToolCall{{Name: "calculator", Arguments: map[string]any{"expression": "123*456"}}},
		Iterations: 2,
		SessionID:  "sess-1",
		Completed:  true,
	}}
	conv := NewConversation(runner)

	reply, err := conv.Submit(context.Background(), "What is 123 * 456?")
	require.NoError(t, err)
	assert.True(t, reply.Completed)
	assert.NotEmpty(t, reply.SessionID)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "What is 123 * 456?", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "123 * 456 = 56088", msgs[1].Content)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.False(t, msgs[1].Timestamp.Before(msgs[0].Timestamp))

	assert.Empty(t, runner.requests[0].SessionID)
	assert.Equal(t, "sess-1", conv.SessionID())

	_, err = conv.Submit(context.Background(), "and times 2?")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", runner.requests[1].SessionID)
	assert.Len(t, conv.Messages(), 4)
}

func TestSubmitWhileBusy(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), result: client.AgentResult{Completed: true}}
	conv := NewConversation(runner)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Submit(context.Background(), "first")
		done <- err
	}()

	require.Eventually(t, conv.Busy, time.Second, time.Millisecond)
	_, err := conv.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, conv.Reset(), ErrBusy)

	close(runner.block)
	require.NoError(t, <-done)
	assert.False(t, conv.Busy())
	assert.Len(t, conv.Messages(), 2)
}

func TestSubmitTransportFailure(t *testing.T) {
	runner := &fakeRunner{err: &client.UnreachableError{Op: "POST /v2/agent", Err: errors.New("refused")}}
	conv := NewConversation(runner)

	_, err := conv.Submit(context.Background(), "hello")
	assert.ErrorIs(t, err, client.ErrUnreachable)
	assert.False(t, conv.Busy())

	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestSubmitInBandWarnings(t *testing.T) {
	runner := &fakeRunner{result: client.AgentResult{Text: "partial", Completed: false, Iterations: 10}}
	conv := NewConversation(runner)

	reply, err := conv.Submit(context.Background(), "long task")
	var incomplete *client.IncompleteError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "partial", reply.Content)
	assert.Len(t, conv.Messages(), 2)
}

func TestSubmitEmptyTask(t *testing.T) {
	conv := NewConversation(&fakeRunner{})
	_, err := conv.Submit(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyTask)
	assert.Empty(t, conv.Messages())
}

func TestSubmitStream(t *testing.T) {
	completed := true
	runner := &fakeRunner{events: []client.Event{
		&client.StartEvent{SessionID: "s-9"},
		&client.ToolStartEvent{Tool: "calculator", Arguments: map[string]any{"expression": "1+1"}},
		&client.TokenEvent{Content: "The answer "},
		&client.TokenEvent{Content: "is 2."},
		&client.DoneEvent{Completed: &completed, Iterations: 1},
	}}
	conv := NewConversation(runner)

	var contents []string
	cancel := conv.Subscribe(func(msgs []Message) {
		if len(msgs) == 2 {
			contents = append(contents, msgs[1].Content)
		}
	})
	defer cancel()

	var seen int
	reply, err := conv.SubmitStream(context.Background(), "1+1?", func(client.Event) { seen++ })
	require.NoError(t, err)
	assert.Equal(t, 5, seen)
	assert.Equal(t, "The answer is 2.", reply.Content)
	assert.True(t, reply.Completed)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "s-9", conv.SessionID())
	assert.Contains(t, contents, "The answer ")

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, reply.ID, msgs[1].ID)
}

func TestSubmitStreamAborted(t *testing.T) {
	runner := &fakeRunner{events: []client.Event{
		&client.TokenEvent{Content: "Half an ans"},
	}}
	conv := NewConversation(runner)

	reply, err := conv.SubmitStream(context.Background(), "q", nil)
	var aborted *client.StreamAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, "Half an ans", reply.Content)
	assert.NotEmpty(t, reply.Error)
	assert.Len(t, conv.Messages(), 2)
	assert.False(t, conv.Busy())
}

func TestSubmitStreamErrorFrame(t *testing.T) {
	runner := &fakeRunner{events: []client.Event{
		&client.TokenEvent{Content: "Working"},
		&client.ErrorEvent{Message: "tool crashed"},
	}}
	conv := NewConversation(runner)

	reply, err := conv.SubmitStream(context.Background(), "q", nil)
	var agentErr *client.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "Working", reply.Content)
	assert.Equal(t, "tool crashed", reply.Error)
}

func TestPatchLastAndReset(t *testing.T) {
	conv := NewConversation(&fakeRunner{result: client.AgentResult{Text: "a", Completed: true, SessionID: "s"}})
	assert.Error(t, conv.PatchLast(func(*Message) {}))

	_, err := conv.Submit(context.Background(), "q")
	require.NoError(t, err)
	require.NoError(t, conv.PatchLast(func(m *Message) { m.Rendered = "rendered" }))
	assert.Equal(t, "rendered", conv.Messages()[1].Rendered)
	assert.Empty(t, conv.Messages()[0].Rendered)

	require.NoError(t, conv.Reset())
	assert.Empty(t, conv.Messages())
	assert.Empty(t, conv.SessionID())
}

func TestSetRendered(t *testing.T) {
	conv := NewConversation(&fakeRunner{result: client.AgentResult{Text: "**hi**", Completed: true}})
	reply, err := conv.Submit(context.Background(), "q")
	require.NoError(t, err)

	assert.True(t, conv.SetRendered(reply.ID, "hi"))
	assert.False(t, conv.SetRendered("missing", "x"))
	assert.Equal(t, "hi", conv.Messages()[1].Rendered)
	assert.Equal(t, "**hi**", conv.Messages()[1].Content)
}

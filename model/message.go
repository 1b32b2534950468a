package model

import (
	"time"

	"github.com/google/uuid"

	"agentdash/client"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in the conversation
type Message struct {
	ID        string
	Role      string
	Content   string
	Rendered  string // Cached rendered markdown
	Timestamp time.Time

	// Assistant turns only
	ToolCalls  []client.ToolCall
	Iterations int
	SessionID  string
	Completed  bool
	Error      string
}

func newMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Warning is the in-band problem attached to an assistant message, if any.
func (m Message) Warning() error {
	if m.Role != RoleAssistant {
		return nil
	}
	return client.AgentResult{
		Text:       m.Content,
		Iterations: m.Iterations,
		Completed:  m.Completed,
		Error:      m.Error,
	}.Warning()
}

package model

import (
	"agentdash/client"
	"agentdash/config"
	"agentdash/progress"
)

// Model holds the core application data and business logic state
type Model struct {
	// Core dependencies
	Config      *config.Config
	Client      *client.Client
	Credentials *config.CredentialStore

	// Application data
	Conversation *Conversation
	Analysis     *progress.Reducer
	Health       *client.HealthInfo

	// Runtime state (not UI)
	Connected bool
	Streaming bool
	Analyzing bool
	Quitting  bool

	// Application metadata
	Version string
}

// NewModel creates a new Model with the given configuration
func NewModel(cfg *config.Config, c *client.Client, creds *config.CredentialStore, version string) *Model {
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Model] NewModel: backend=%s storage=%s key present=%v",
			c.BaseURL(), c.StorageType(), c.HasAPIKey())
	}

	return &Model{
		Config:       cfg,
		Client:       c,
		Credentials:  creds,
		Conversation: NewConversation(c),
		Analysis:     progress.NewReducer(),
		Version:      version,
	}
}

// Messages is the conversation history.
func (m *Model) Messages() []Message {
	return m.Conversation.Messages()
}

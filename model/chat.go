package model

import (
	"time"
)

// MessageRole represents the role of the message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// ConversationMessage is one entry of a session's append-only history.
// Sequence is the client turn number the entry belongs to; both the user
// entry and the assistant reply of a turn carry the same value.
type ConversationMessage struct {
	Role       MessageRole `json:"role"`
	Text       string      `json:"text"`
	Sequence   int64       `json:"sequence"`
	Timestamp  time.Time   `json:"timestamp"`
	Intent     string      `json:"intent,omitempty"`
	TokensUsed int         `json:"tokens_used,omitempty"`
	ModelUsed  string      `json:"model_used,omitempty"`
}

// JSONMap is free-form metadata stored inside the session document
type JSONMap map[string]interface{}

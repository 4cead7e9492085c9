package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Persistable reports whether turns of this role may be written to a store.
// System turns exist only in outbound prompts.
func (r Role) Persistable() bool {
	return r == RoleUser || r == RoleAssistant
}

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleUser:
		return RoleUser, true
	case RoleAssistant:
		return RoleAssistant, true
	case RoleSystem:
		return RoleSystem, true
	default:
		return "", false
	}
}

// TurnState tracks a transcript entry through its lifecycle:
// pending -> confirmed, or pending -> local when persistence failed.
type TurnState string

const (
	StatePending   TurnState = "pending"
	StateConfirmed TurnState = "confirmed"
	StateLocal     TurnState = "local"
)

// Turn is one message in the shared conversation.
type Turn struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	State     TurnState  `json:"state,omitempty"`
	// Failed marks assistant turns synthesized from a completion failure.
	Failed bool `json:"failed,omitempty"`
}

// Persisted reports whether the store has accepted the turn.
func (t Turn) Persisted() bool {
	return t.State == StateConfirmed
}

// Message returns the prompt view of the turn: role and content only.
func (t Turn) Message() Message {
	return Message{Role: t.Role, Content: t.Content}
}

// Message mirrors the OpenAI-compatible chat message payload.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

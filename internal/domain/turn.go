// Package domain contains core domain types for the outfit dialogue.
package domain

// Role tags the speaker of a turn.
type Role string

const (
	// RoleUser marks a turn typed (or triggered) by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the reasoning service or by
	// local error reporting.
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation. Turns are never mutated after
// they are appended to a history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn builds a user-role turn.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds an assistant-role turn.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

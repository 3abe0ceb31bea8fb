package models

import "time"

// Role represents the role of a message participant.
type Role string

// Mode represents the interaction mode of a conversation. A conversation starts in
// ModeWelcome, moves to ModeConversing on the first send, and toggles into
// ModeLeadCapture while the structured contact form is open.
type Mode string

const (
	// RoleUser represents a visitor message. User messages are immutable once created.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message. The content of the most recent
	// assistant message grows incrementally while a response is being streamed.
	RoleAssistant Role = "assistant"

	// ModeWelcome is the initial mode showing suggested prompts before any exchange.
	ModeWelcome Mode = "welcome"
	// ModeConversing is the normal message exchange mode.
	ModeConversing Mode = "conversing"
	// ModeLeadCapture is active while the lead form replaces the compose area.
	ModeLeadCapture Mode = "lead-capture"
)

// Message represents an individual turn within a conversation. Assistant messages are
// created empty and filled fragment by fragment while the upstream model streams.
// ShowActions is raised on the most recent completed assistant message once the
// visitor has gone through at least one full exchange, and controls whether the
// follow-up affordances ("Get Started", "Schedule Call") render.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	ShowActions bool      `json:"showActions,omitempty"`
}

// Conversation is a container for an ordered, append-only message sequence.
type Conversation struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
}

// LeadForm holds the structured contact fields collected by the lead-capture flow.
// The record is transient: it exists only between entering lead-capture mode and the
// submission outcome, and is never merged into the conversation itself.
type LeadForm struct {
	Name     string
	Email    string
	Company  string
	Budget   string
	Timeline string
}

// Complete reports whether the fields required for submission are filled in.
// Budget and timeline are optional.
func (f LeadForm) Complete() bool {
	return f.Name != "" && f.Email != "" && f.Company != ""
}

// Lead is an accepted lead submission as persisted alongside the conversation it
// came from.
type Lead struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Form           LeadForm  `json:"form"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

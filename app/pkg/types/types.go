package types

import "context"

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

type ScopeType string

const (
	ScopeUser  ScopeType = "user"
	ScopeGroup ScopeType = "group"
	ScopeRoom  ScopeType = "room"
)

// Scope is the conversation context that partitions tasks and sessions.
type Scope struct {
	Type ScopeType
	ID   string
}

func (s Scope) Key() string {
	return string(s.Type) + ":" + s.ID
}

func (s Scope) IsZero() bool {
	return s.Type == "" && s.ID == ""
}

// Message represents one normalized inbound chat event or one outbound reply.
type Message struct {
	ID          string
	Content     string
	Role        string // "user", "assistant"
	ChannelID   string // source channel identifier (e.g. "webhook", "cli")
	Scope       Scope
	UserID      string
	DisplayName string
	RequestID   string
	Meta        map[string]interface{}
}

// Channel represents an input/output interface (webhook, CLI)
type Channel interface {
	Start(ctx context.Context, handler func(Message)) error
	Send(ctx context.Context, msg Message) error
	ID() string
}

// Gateway orchestrates channels and the command dispatcher
type Gateway interface {
	RegisterChannel(c Channel)
	Start(ctx context.Context) error
}

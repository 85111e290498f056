package transport

import (
	"context"
	"strings"
)

// Update is one inbound event from the chat platform.
type Update struct {
	Message *Message
}

type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	FromLastName  string
	Text          string
	IsGroup       bool
}

// SenderIdentity resolves the display identity used for task ownership:
// the sender's handle when they have one, otherwise their full name.
func (m *Message) SenderIdentity() string {
	if m == nil {
		return ""
	}
	if u := strings.TrimSpace(m.FromUsername); u != "" {
		return u
	}
	return strings.TrimSpace(m.FromFirstName + " " + m.FromLastName)
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is a small serializable outbound payload. It deliberately
// carries no closures or handles so it can sit in a queue or a scheduler
// without capturing mutable state.
type Notification struct {
	Kind   string // "reply" | "reminder" | "broadcast" | "log"
	Target ChatTarget
	Text   string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

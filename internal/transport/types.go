package transport

import "context"

// Message is one inbound chat message, normalized across adapters.
type Message struct {
	ID       string
	UserID   string
	UserName string
	// RoomID identifies where replies go. Adapters define the format
	// (Telegram uses "<chat_id>" or "<chat_id>/<thread_id>").
	RoomID string
	Text   string
	// Direct is true for one-to-one conversations with the bot.
	Direct bool
}

// User returns the best available human identifier for the sender.
func (m Message) User() string {
	if m.UserName != "" {
		return m.UserName
	}
	return m.UserID
}

// Identity is how the bot is addressed in chat.
type Identity struct {
	Name  string
	Alias string
}

// Sender is the message-send primitive. SendSnippet is the oversized-message
// path (file/document upload where the platform supports it).
type Sender interface {
	Send(ctx context.Context, room, text string) error
	SendSnippet(ctx context.Context, room, title, text string) error
}

type Adapter interface {
	Sender

	// Name is a short stable adapter identifier ("telegram", "shell").
	Name() string
	// Identity reports the bot's own username as seen by the platform.
	// It may be empty before Start.
	Identity() Identity

	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error
}

// ShellAdapterName is the designated local test adapter. Plain-http endpoints
// are accepted only while this adapter is active.
const ShellAdapterName = "shell"

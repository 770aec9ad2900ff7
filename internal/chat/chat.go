// Package chat manages one conversation against one bot: session ids, the
// optimistic user turn, the incremental reply reveal, persisted history and
// an optional push transport for replies and typing indicators.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/botctl/internal/client"
)

const (
	// DefaultRevealInterval is the per-character cadence of the reply reveal.
	DefaultRevealInterval = 20 * time.Millisecond

	// DefaultHistoryLimit is the number of conversation summaries fetched.
	DefaultHistoryLimit = 50
)

var (
	// ErrEmptyMessage indicates a message that is blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoBotSelected indicates an operation that needs a selected bot.
	ErrNoBotSelected = errors.New("no bot selected")

	// ErrSessionChanged indicates a reply that arrived after the session it
	// belonged to was replaced. The reply is discarded.
	ErrSessionChanged = errors.New("session changed before reply arrived")

	// ErrClosed indicates use of a closed session.
	ErrClosed = errors.New("chat session closed")
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one committed turn of the transcript.
type Message struct {
	ID         string
	Sender     Sender
	Content    string
	Intent     *string
	Confidence *float64
	Timestamp  time.Time
}

// EventKind classifies session events.
type EventKind int

const (
	// EventMessage reports a committed message appended to the transcript.
	EventMessage EventKind = iota
	// EventReveal reports the currently visible prefix of a reply being revealed.
	EventReveal
	// EventTyping reports the bot typing indicator.
	EventTyping
	// EventReset reports that the transcript was replaced (new session or loaded conversation).
	EventReset
	// EventError reports a push channel failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventReveal:
		return "reveal"
	case EventTyping:
		return "typing"
	case EventReset:
		return "reset"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event describes a change of session state for renderers.
type Event struct {
	Kind       EventKind
	SessionID  string
	Message    *Message  // EventMessage
	Text       string    // EventReveal
	Typing     bool      // EventTyping
	Transcript []Message // EventReset
	Err        error     // EventError
}

// ReplyAPI is the subset of the platform client the session needs.
type ReplyAPI interface {
	SendChat(ctx context.Context, botID int, req client.ChatRequest) (*client.ChatReply, error)
	ConversationHistory(ctx context.Context, botID, limit int) ([]client.ConversationSummary, error)
	GetConversation(ctx context.Context, conversationID int) (*client.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int) error
}

// Incoming is one event received on a push channel.
type Incoming struct {
	Text   string
	Typing bool
	Err    error
}

// Source is a push transport for bot replies keyed by session id.
// Events is closed when the transport gives up or is closed.
type Source interface {
	Send(ctx context.Context, text string) error
	Events() <-chan Incoming
	Close() error
}

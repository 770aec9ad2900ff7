package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/botctl/internal/client"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAutoSave sets whether the service persists the conversation.
func WithAutoSave(on bool) Option {
	return func(s *Session) {
		s.autoSave = on
	}
}

// WithRevealInterval sets the reveal cadence. A value <= 0 commits replies immediately.
func WithRevealInterval(d time.Duration) Option {
	return func(s *Session) {
		s.revealInterval = d
	}
}

// WithEventSink receives every session event in order. The sink must not call
// methods that change session state.
func WithEventSink(fn func(Event)) Option {
	return func(s *Session) {
		s.sink = fn
	}
}

// WithClock overrides the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSuffix overrides the random suffix of session ids.
func WithSuffix(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.suffix = fn
		}
	}
}

// Session is the active conversation with one bot.
// All methods are safe for concurrent use.
type Session struct {
	api            ReplyAPI
	logger         *slog.Logger
	revealInterval time.Duration
	sink           func(Event)
	now            func() time.Time
	suffix         func() string

	// notifyMu serialises state changes with their events so sinks observe
	// them in order. Lock order: notifyMu, then mu.
	notifyMu sync.Mutex

	mu             sync.Mutex
	botID          int
	sessionID      string
	messages       []Message
	conversationID int
	history        []client.ConversationSummary
	autoSave       bool
	reveal         *revealTask
	streaming      string
	push           Source
	pushCancel     context.CancelFunc
	closed         bool
}

// New creates a session with no bot selected.
func New(api ReplyAPI, opts ...Option) *Session {
	s := &Session{
		api:            api,
		logger:         slog.Default(),
		revealInterval: DefaultRevealInterval,
		now:            time.Now,
		suffix:         randomSuffix,
		autoSave:       true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// SelectBot switches to botID, starting a new session unless it is already selected.
func (s *Session) SelectBot(botID int) (string, error) {
	s.mu.Lock()
	same := s.botID == botID && s.sessionID != ""
	id := s.sessionID
	s.mu.Unlock()
	if same {
		return id, nil
	}
	return s.NewSession(botID)
}

// NewSession starts a fresh conversation with botID: a new session id, an
// empty transcript, no loaded conversation. Any reveal in progress is dropped
// and the push channel, which is bound to the old id, is detached and closed.
func (s *Session) NewSession(botID int) (string, error) {
	if botID <= 0 {
		return "", ErrNoBotSelected
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if botID != s.botID {
		s.history = nil
	}
	id := nextSessionID(botID, s.sessionID, s.now, s.suffix)
	s.botID = botID
	s.sessionID = id
	s.messages = nil
	s.conversationID = 0
	s.dropRevealLocked()
	push := s.detachPushLocked()
	s.mu.Unlock()

	s.logger.Debug("chat session created", "bot_id", botID, "session_id", id)
	s.emit(Event{Kind: EventReset, SessionID: id})
	closePush(push, s.logger)
	return id, nil
}

// Close commits any reply being revealed and closes the push channel.
func (s *Session) Close() error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	events := s.finishRevealLocked()
	push := s.detachPushLocked()
	s.mu.Unlock()

	s.emit(events...)
	if push != nil {
		return push.Close()
	}
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// Send appends the user turn and requests the bot reply. The reply is
// revealed incrementally and committed as one message; the returned message
// is the full reply. With a push channel attached the text is sent on the
// channel and the reply arrives as an event, so the returned message is nil.
// On failure only the user turn remains in the transcript.
func (s *Session) Send(ctx context.Context, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.notifyMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return nil, ErrClosed
	}
	if s.botID == 0 {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return nil, ErrNoBotSelected
	}

	events := s.finishRevealLocked()
	firstTurn := len(s.messages) == 0 && s.conversationID == 0
	user := Message{
		ID:        uuid.NewString(),
		Sender:    SenderUser,
		Content:   text,
		Timestamp: s.now(),
	}
	s.messages = append(s.messages, user)
	events = append(events, Event{Kind: EventMessage, SessionID: s.sessionID, Message: &user})

	botID, sessionID, save, push := s.botID, s.sessionID, s.autoSave, s.push
	s.mu.Unlock()
	s.emit(events...)
	s.notifyMu.Unlock()

	if push != nil {
		if err := push.Send(ctx, text); err != nil {
			return nil, fmt.Errorf("push send: %w", err)
		}
		return nil, nil
	}

	reply, err := s.api.SendChat(ctx, botID, client.ChatRequest{Message: text, SessionID: sessionID, Save: save})
	if err != nil {
		s.logger.Warn("chat send failed", "bot_id", botID, "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	msg := Message{
		ID:         uuid.NewString(),
		Sender:     SenderBot,
		Content:    reply.Message,
		Intent:     reply.Intent,
		Confidence: reply.Confidence,
		Timestamp:  s.now(),
	}
	if !s.deliver(sessionID, msg, true) {
		return nil, ErrSessionChanged
	}

	if save && firstTurn {
		if _, err := s.LoadHistory(ctx, DefaultHistoryLimit); err != nil {
			s.logger.Warn("reload conversation history failed", "bot_id", botID, "error", err)
		}
	}
	return &msg, nil
}

// Flush commits a reply that is still being revealed.
func (s *Session) Flush() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	events := s.finishRevealLocked()
	s.mu.Unlock()
	s.emit(events...)
}

// deliver appends a bot reply for sessionID, revealing it when animate is set.
// Both the HTTP reply path and the push path end here. It returns false when
// the session has moved on and the reply was discarded.
func (s *Session) deliver(sessionID string, msg Message, animate bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || s.sessionID != sessionID {
		s.mu.Unlock()
		s.logger.Debug("discarding stale reply", "session_id", sessionID)
		return false
	}

	events := s.finishRevealLocked()
	if !animate || s.revealInterval <= 0 || msg.Content == "" {
		s.messages = append(s.messages, msg)
		events = append(events, Event{Kind: EventMessage, SessionID: sessionID, Message: &msg})
		s.mu.Unlock()
		s.emit(events...)
		return true
	}

	task := newRevealTask(sessionID, msg, s.revealInterval)
	s.reveal = task
	s.streaming = ""
	s.mu.Unlock()
	s.emit(events...)

	go task.run(s.revealFrame, s.commitReveal)
	return true
}

// revealFrame publishes one reveal prefix if task is still current.
func (s *Session) revealFrame(task *revealTask, text string) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.reveal != task {
		s.mu.Unlock()
		return false
	}
	s.streaming = text
	s.mu.Unlock()

	s.emit(Event{Kind: EventReveal, SessionID: task.sessionID, Text: text})
	return true
}

// commitReveal ends a reveal that played to completion.
func (s *Session) commitReveal(task *revealTask) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.reveal != task {
		s.mu.Unlock()
		return
	}
	s.reveal = nil
	s.streaming = ""
	msg := task.message
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessage, SessionID: task.sessionID, Message: &msg})
}

// finishRevealLocked stops the active reveal and commits its full message.
// Caller must hold mu; the returned events must be emitted after releasing it.
func (s *Session) finishRevealLocked() []Event {
	task := s.reveal
	if task == nil {
		return nil
	}
	task.halt()
	s.reveal = nil
	s.streaming = ""
	msg := task.message
	s.messages = append(s.messages, msg)
	return []Event{{Kind: EventMessage, SessionID: task.sessionID, Message: &msg}}
}

// dropRevealLocked stops the active reveal without committing. Caller must hold mu.
func (s *Session) dropRevealLocked() {
	if s.reveal != nil {
		s.reveal.halt()
		s.reveal = nil
	}
	s.streaming = ""
}

// =============================================================================
// HISTORY
// =============================================================================

// LoadHistory fetches the bot's persisted conversations and selects the one
// belonging to the active session, if any. limit <= 0 uses DefaultHistoryLimit.
func (s *Session) LoadHistory(ctx context.Context, limit int) ([]client.ConversationSummary, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.Lock()
	botID := s.botID
	s.mu.Unlock()
	if botID == 0 {
		return nil, ErrNoBotSelected
	}

	history, err := s.api.ConversationHistory(ctx, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.botID != botID {
		return history, nil
	}
	s.history = history
	if s.conversationID == 0 {
		for _, c := range history {
			if c.SessionID == s.sessionID {
				s.conversationID = c.ConversationID
				break
			}
		}
	}
	return history, nil
}

// LoadConversation replaces the transcript with a persisted conversation and
// continues its session.
func (s *Session) LoadConversation(ctx context.Context, conversationID int) (*client.Conversation, error) {
	conv, err := s.api.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %d: %w", conversationID, err)
	}

	messages := make([]Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		messages = append(messages, Message{
			ID:         strconv.Itoa(m.ID),
			Sender:     Sender(m.Sender),
			Content:    m.Message,
			Intent:     m.Intent,
			Confidence: m.Confidence,
			Timestamp:  m.Timestamp.Time,
		})
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if conv.BotID != 0 && conv.BotID != s.botID {
		s.botID = conv.BotID
		s.history = nil
	}
	s.dropRevealLocked()
	s.sessionID = conv.SessionID
	s.conversationID = conversationID
	s.messages = messages
	push := s.detachPushLocked()
	transcript := append([]Message(nil), messages...)
	sessionID := s.sessionID
	s.mu.Unlock()

	s.emit(Event{Kind: EventReset, SessionID: sessionID, Transcript: transcript})
	closePush(push, s.logger)
	return conv, nil
}

// DeleteConversation removes a persisted conversation. Deleting the loaded
// conversation starts a new session.
func (s *Session) DeleteConversation(ctx context.Context, conversationID int) error {
	if err := s.api.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %d: %w", conversationID, err)
	}

	s.mu.Lock()
	loaded := s.conversationID == conversationID
	botID := s.botID
	kept := make([]client.ConversationSummary, 0, len(s.history))
	for _, c := range s.history {
		if c.ConversationID != conversationID {
			kept = append(kept, c)
		}
	}
	s.history = kept
	s.mu.Unlock()

	if loaded {
		if _, err := s.NewSession(botID); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// PUSH TRANSPORT
// =============================================================================

// UsePush attaches a push channel for the active session, replacing and
// closing any previous one. Replies received on it are committed without a
// reveal. The channel is detached when its events stream ends.
func (s *Session) UsePush(ctx context.Context, src Source) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.botID == 0 {
		s.mu.Unlock()
		return ErrNoBotSelected
	}
	old := s.detachPushLocked()
	pumpCtx, cancel := context.WithCancel(ctx)
	s.push = src
	s.pushCancel = cancel
	sessionID := s.sessionID
	s.mu.Unlock()

	closePush(old, s.logger)
	go s.pump(pumpCtx, src, sessionID)
	return nil
}

// pump forwards push events into the session until the channel ends.
func (s *Session) pump(ctx context.Context, src Source, sessionID string) {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.mu.Lock()
				if s.push == src {
					s.push = nil
					s.pushCancel = nil
				}
				s.mu.Unlock()
				return
			}
			if !s.isPush(src) {
				return
			}
			s.handleIncoming(sessionID, ev)
		}
	}
}

func (s *Session) handleIncoming(sessionID string, ev Incoming) {
	switch {
	case ev.Err != nil:
		s.logger.Warn("push channel error", "session_id", sessionID, "error", ev.Err)
		s.notify(Event{Kind: EventError, SessionID: sessionID, Err: ev.Err})
	case ev.Typing:
		s.notify(Event{Kind: EventTyping, SessionID: sessionID, Typing: true})
	case ev.Text != "":
		s.notify(Event{Kind: EventTyping, SessionID: sessionID, Typing: false})
		s.deliver(sessionID, Message{
			ID:        uuid.NewString(),
			Sender:    SenderBot,
			Content:   ev.Text,
			Timestamp: s.now(),
		}, false)
	default:
		// Typing stopped without a reply.
		s.notify(Event{Kind: EventTyping, SessionID: sessionID, Typing: false})
	}
}

func (s *Session) isPush(src Source) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push == src
}

// PushAttached reports whether replies arrive on a push channel.
func (s *Session) PushAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.push != nil
}

// detachPushLocked unbinds the push channel and returns it for closing.
// Caller must hold mu.
func (s *Session) detachPushLocked() Source {
	push := s.push
	if s.pushCancel != nil {
		s.pushCancel()
	}
	s.push = nil
	s.pushCancel = nil
	return push
}

func closePush(src Source, logger *slog.Logger) {
	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		logger.Debug("close push channel", "error", err)
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Transcript returns a copy of the committed messages.
func (s *Session) Transcript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// SessionID returns the active session id, empty before a bot is selected.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// BotID returns the selected bot, 0 if none.
func (s *Session) BotID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.botID
}

// ConversationID returns the loaded persisted conversation, 0 if none.
func (s *Session) ConversationID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// History returns the last fetched conversation summaries.
func (s *Session) History() []client.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.ConversationSummary(nil), s.history...)
}

// Streaming returns the visible prefix of the reply being revealed.
func (s *Session) Streaming() (text string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming, s.reveal != nil
}

// AutoSave reports whether conversations are persisted by the service.
func (s *Session) AutoSave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoSave
}

// SetAutoSave toggles persistence for subsequent sends.
func (s *Session) SetAutoSave(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSave = on
}

// notify emits a standalone event.
func (s *Session) notify(ev Event) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.emit(ev)
}

// emit calls the sink. Caller must hold notifyMu and not mu.
func (s *Session) emit(events ...Event) {
	if s.sink == nil {
		return
	}
	for _, ev := range events {
		s.sink(ev)
	}
}

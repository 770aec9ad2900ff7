package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplies struct {
	mu       sync.Mutex
	reply    func(req client.ChatRequest) (*client.ChatReply, error)
	requests []client.ChatRequest
	history  []client.ConversationSummary
	convs    map[int]*client.Conversation
	deleted  []int

	sendCalls    atomic.Int32
	historyCalls atomic.Int32
}

func newFakeReplies() *fakeReplies {
	return &fakeReplies{
		reply: func(req client.ChatRequest) (*client.ChatReply, error) {
			return &client.ChatReply{Message: "echo: " + req.Message}, nil
		},
		convs: map[int]*client.Conversation{},
	}
}

func (f *fakeReplies) SendChat(ctx context.Context, botID int, req client.ChatRequest) (*client.ChatReply, error) {
	f.sendCalls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := f.reply
	f.mu.Unlock()
	return reply(req)
}

func (f *fakeReplies) ConversationHistory(ctx context.Context, botID, limit int) ([]client.ConversationSummary, error) {
	f.historyCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.ConversationSummary(nil), f.history...), nil
}

func (f *fakeReplies) GetConversation(ctx context.Context, conversationID int) (*client.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[conversationID]
	if !ok {
		return nil, client.ErrNotFound
	}
	return conv, nil
}

func (f *fakeReplies) DeleteConversation(ctx context.Context, conversationID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, conversationID)
	return nil
}

// recorder collects session events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeSource struct {
	events chan Incoming
	sent   chan string
	closed atomic.Bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan Incoming, 8), sent: make(chan string, 8)}
}

func (f *fakeSource) Send(ctx context.Context, text string) error {
	f.sent <- text
	return nil
}

func (f *fakeSource) Events() <-chan Incoming { return f.events }

func (f *fakeSource) Close() error {
	f.closed.Store(true)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, api ReplyAPI, opts ...Option) *Session {
	t.Helper()
	base := []Option{WithLogger(quietLogger()), WithRevealInterval(0)}
	s := New(api, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Sender) + ":" + m.Content
	}
	return out
}

func TestSendCommitsReply(t *testing.T) {
	api := newFakeReplies()
	s := newTestSession(t, api, WithAutoSave(false))
	_, err := s.NewSession(3)
	require.NoError(t, err)

	for _, text := range []string{"hello", "  price?  ", "bye"} {
		msg, err := s.Send(context.Background(), text)
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, SenderBot, msg.Sender)
	}

	assert.Equal(t, []string{
		"user:hello", "bot:echo: hello",
		"user:price?", "bot:echo: price?",
		"user:bye", "bot:echo: bye",
	}, contents(s.Transcript()))

	for _, req := range api.requests {
		assert.Equal(t, s.SessionID(), req.SessionID)
		assert.False(t, req.Save)
	}
	assert.Zero(t, api.historyCalls.Load(), "history is only reloaded when saving")
}

func TestSendFailureKeepsUserTurn(t *testing.T) {
	api := newFakeReplies()
	api.reply = func(client.ChatRequest) (*client.ChatReply, error) {
		return nil, errors.New("connection refused")
	}
	s := newTestSession(t, api)
	_, err := s.NewSession(3)
	require.NoError(t, err)

	msg, err := s.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, []string{"user:hello"}, contents(s.Transcript()))
}

func TestSendValidation(t *testing.T) {
	api := newFakeReplies()
	s := newTestSession(t, api)

	_, err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoBotSelected)

	_, err = s.NewSession(3)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	assert.Zero(t, api.sendCalls.Load())
	assert.Empty(t, s.Transcript())

	_, err = s.NewSession(0)
	assert.ErrorIs(t, err, ErrNoBotSelected)
}

func TestNewSessionIDs(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	s := newTestSession(t, newFakeReplies(),
		WithClock(func() time.Time { return fixed }),
		WithSuffix(func() string { return "abcdefghi" }),
	)

	first, err := s.NewSession(3)
	require.NoError(t, err)
	assert.Equal(t, "session_3_1700000000000_abcdefghi", first)

	seen := map[string]bool{first: true}
	prev := first
	for i := 0; i < 5; i++ {
		id, err := s.NewSession(3)
		require.NoError(t, err)
		assert.NotEqual(t, prev, id)
		assert.True(t, strings.HasPrefix(id, "session_3_"))
		seen[id] = true
		prev = id
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestRandomSuffix(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := randomSuffix()
		require.Len(t, s, suffixLen)
		for _, r := range s {
			assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z'), "unexpected rune %q", r)
		}
	}
}

func TestSelectBotKeepsSession(t *testing.T) {
	s := newTestSession(t, newFakeReplies())

	id, err := s.SelectBot(3)
	require.NoError(t, err)
	again, err := s.SelectBot(3)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := s.SelectBot(4)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Equal(t, 4, s.BotID())
}

func TestRevealInterruptedBySend(t *testing.T) {
	api := newFakeReplies()
	s := newTestSession(t, api, WithRevealInterval(time.Hour), WithAutoSave(false))
	_, err := s.NewSession(3)
	require.NoError(t, err)

	msg, err := s.Send(context.Background(), "one")
	require.NoError(t, err)
	assert.Equal(t, "echo: one", msg.Content)

	_, active := s.Streaming()
	assert.True(t, active)
	assert.Equal(t, []string{"user:one"}, contents(s.Transcript()))

	_, err = s.Send(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:one", "bot:echo: one", "user:two"}, contents(s.Transcript()))

	s.Flush()
	_, active = s.Streaming()
	assert.False(t, active)
	assert.Equal(t, []string{
		"user:one", "bot:echo: one",
		"user:two", "bot:echo: two",
	}, contents(s.Transcript()))
}

func TestRevealFrames(t *testing.T) {
	api := newFakeReplies()
	api.reply = func(client.ChatRequest) (*client.ChatReply, error) {
		return &client.ChatReply{Message: "xin chào"}, nil
	}
	rec := &recorder{}
	s := newTestSession(t, api, WithRevealInterval(time.Millisecond), WithAutoSave(false), WithEventSink(rec.sink))
	_, err := s.NewSession(3)
	require.NoError(t, err)

	_, err = s.Send(context.Background(), "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(s.Transcript()) == 2 }, time.Second, time.Millisecond)

	frames := rec.kinds(EventReveal)
	require.Len(t, frames, len([]rune("xin chào")))
	for i, ev := range frames {
		assert.Equal(t, string([]rune("xin chào")[:i+1]), ev.Text)
	}

	messages := rec.kinds(EventMessage)
	require.Len(t, messages, 2)
	assert.Equal(t, "xin chào", messages[1].Message.Content)
	_, active := s.Streaming()
	assert.False(t, active)
}

func TestStaleReplyDiscarded(t *testing.T) {
	api := newFakeReplies()
	entered := make(chan struct{})
	release := make(chan struct{})
	api.reply = func(req client.ChatRequest) (*client.ChatReply, error) {
		close(entered)
		<-release
		return &client.ChatReply{Message: "late"}, nil
	}
	s := newTestSession(t, api)
	_, err := s.NewSession(3)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), "hello")
		errc <- err
	}()

	<-entered
	_, err = s.NewSession(3)
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-errc, ErrSessionChanged)
	assert.Empty(t, s.Transcript())
}

func TestFirstSavedMessageSelectsConversation(t *testing.T) {
	api := newFakeReplies()
	s := newTestSession(t, api)
	id, err := s.NewSession(3)
	require.NoError(t, err)

	api.history = []client.ConversationSummary{
		{ConversationID: 41, SessionID: "session_3_1_other"},
		{ConversationID: 42, SessionID: id, MessageCount: 2},
	}

	_, err = s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, api.requests[0].Save)
	assert.Equal(t, int32(1), api.historyCalls.Load())
	assert.Equal(t, 42, s.ConversationID())
	assert.Len(t, s.History(), 2)

	_, err = s.Send(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.historyCalls.Load(), "only the first turn reloads history")
}

func TestLoadConversation(t *testing.T) {
	api := newFakeReplies()
	intent := "greeting"
	api.convs[42] = &client.Conversation{
		ID:        42,
		BotID:     9,
		SessionID: "session_9_1700000000000_zzzzzzzzz",
		Messages: []client.ConversationMessage{
			{ID: 1, Sender: "user", Message: "xin chào"},
			{ID: 2, Sender: "bot", Message: "Chào bạn!", Intent: &intent},
		},
	}
	rec := &recorder{}
	s := newTestSession(t, api, WithEventSink(rec.sink))
	_, err := s.NewSession(3)
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "old")
	require.NoError(t, err)

	_, err = s.LoadConversation(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 9, s.BotID())
	assert.Equal(t, "session_9_1700000000000_zzzzzzzzz", s.SessionID())
	assert.Equal(t, 42, s.ConversationID())
	assert.Equal(t, []string{"user:xin chào", "bot:Chào bạn!"}, contents(s.Transcript()))

	resets := rec.kinds(EventReset)
	require.NotEmpty(t, resets)
	assert.Len(t, resets[len(resets)-1].Transcript, 2)

	_, err = s.LoadConversation(context.Background(), 99)
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.Equal(t, 42, s.ConversationID())
}

func TestDeleteConversation(t *testing.T) {
	api := newFakeReplies()
	api.convs[42] = &client.Conversation{ID: 42, BotID: 3, SessionID: "session_3_1_loaded",
		Messages: []client.ConversationMessage{{ID: 1, Sender: "user", Message: "hi"}}}
	api.history = []client.ConversationSummary{
		{ConversationID: 41, SessionID: "session_3_1_other"},
		{ConversationID: 42, SessionID: "session_3_1_loaded"},
	}
	s := newTestSession(t, api)
	_, err := s.NewSession(3)
	require.NoError(t, err)
	_, err = s.LoadHistory(context.Background(), 0)
	require.NoError(t, err)
	_, err = s.LoadConversation(context.Background(), 42)
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(context.Background(), 41))
	assert.Equal(t, 42, s.ConversationID())
	assert.Len(t, s.Transcript(), 1)

	require.NoError(t, s.DeleteConversation(context.Background(), 42))
	assert.Zero(t, s.ConversationID())
	assert.Empty(t, s.Transcript())
	assert.NotEqual(t, "session_3_1_loaded", s.SessionID())
	assert.Empty(t, s.History())
	assert.Equal(t, []int{41, 42}, api.deleted)
}

func TestPushTransport(t *testing.T) {
	api := newFakeReplies()
	rec := &recorder{}
	s := newTestSession(t, api, WithRevealInterval(time.Hour), WithEventSink(rec.sink))
	_, err := s.NewSession(3)
	require.NoError(t, err)

	src := newFakeSource()
	require.NoError(t, s.UsePush(context.Background(), src))
	assert.True(t, s.PushAttached())

	msg, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, "hello", <-src.sent)
	assert.Zero(t, api.sendCalls.Load())

	src.events <- Incoming{Typing: true}
	src.events <- Incoming{Text: "hi there"}

	require.Eventually(t, func() bool { return len(s.Transcript()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"user:hello", "bot:hi there"}, contents(s.Transcript()))
	_, active := s.Streaming()
	assert.False(t, active, "push replies are not revealed")

	typing := rec.kinds(EventTyping)
	require.Len(t, typing, 2)
	assert.True(t, typing[0].Typing)
	assert.False(t, typing[1].Typing)

	next := newFakeSource()
	require.NoError(t, s.UsePush(context.Background(), next))
	assert.True(t, src.closed.Load())

	next.events <- Incoming{Err: errors.New("reconnect failed")}
	require.Eventually(t, func() bool { return len(rec.kinds(EventError)) == 1 }, time.Second, time.Millisecond)

	close(next.events)
	require.Eventually(t, func() bool { return !s.PushAttached() }, time.Second, time.Millisecond)
}

func TestNewSessionDetachesPush(t *testing.T) {
	s := newTestSession(t, newFakeReplies())
	_, err := s.NewSession(3)
	require.NoError(t, err)

	src := newFakeSource()
	require.NoError(t, s.UsePush(context.Background(), src))

	_, err = s.NewSession(3)
	require.NoError(t, err)
	assert.False(t, s.PushAttached())
	assert.True(t, src.closed.Load())
}

func TestCloseCommitsReveal(t *testing.T) {
	s := New(newFakeReplies(), WithLogger(quietLogger()), WithRevealInterval(time.Hour), WithAutoSave(false))
	_, err := s.NewSession(3)
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"user:hello", "bot:echo: hello"}, contents(s.Transcript()))

	_, err = s.Send(context.Background(), "again")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestPushTypingCleared(t *testing.T) {
	rec := &recorder{}
	s := newTestSession(t, newFakeReplies(), WithEventSink(rec.sink))
	_, err := s.NewSession(3)
	require.NoError(t, err)

	src := newFakeSource()
	require.NoError(t, s.UsePush(context.Background(), src))

	src.events <- Incoming{Typing: true}
	src.events <- Incoming{}

	require.Eventually(t, func() bool { return len(rec.kinds(EventTyping)) == 2 }, time.Second, time.Millisecond)
	typing := rec.kinds(EventTyping)
	assert.True(t, typing[0].Typing)
	assert.False(t, typing[1].Typing)
	assert.Empty(t, s.Transcript())
}

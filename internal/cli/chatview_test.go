package cli

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/botctl/internal/chat"
	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatReplies answers every message with a fixed reply and serves one
// persisted conversation.
type chatReplies struct {
	reply string

	mu      sync.Mutex
	sent    []string
	deleted []int
}

func (f *chatReplies) SendChat(_ context.Context, _ int, req client.ChatRequest) (*client.ChatReply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req.Message)
	f.mu.Unlock()
	return &client.ChatReply{Message: f.reply}, nil
}

func (f *chatReplies) ConversationHistory(context.Context, int, int) ([]client.ConversationSummary, error) {
	return nil, nil
}

func (f *chatReplies) GetConversation(_ context.Context, id int) (*client.Conversation, error) {
	return &client.Conversation{
		ID:        id,
		BotID:     3,
		SessionID: "session_3_1_saved",
		Messages: []client.ConversationMessage{
			{ID: 1, Sender: "user", Message: "hi"},
			{ID: 2, Sender: "bot", Message: "hello"},
		},
	}, nil
}

func (f *chatReplies) DeleteConversation(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *chatReplies) deletedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.deleted...)
}

// chatHarness runs the chat view headless over a real session.
type chatHarness struct {
	session *chat.Session
	program *tea.Program
	done    chan error

	mu     sync.Mutex
	events []chat.Event
}

func startChatHarness(t *testing.T, api chat.ReplyAPI, setup func(*chat.Session, *chatModel)) *chatHarness {
	t.Helper()
	setupGlobals(t)

	h := &chatHarness{done: make(chan error, 1)}
	events := newEventQueue()
	t.Cleanup(events.close)

	h.session = chat.New(api,
		chat.WithLogger(logger),
		chat.WithRevealInterval(time.Millisecond),
		chat.WithEventSink(func(ev chat.Event) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			h.mu.Unlock()
			events.push(ev)
		}),
	)
	t.Cleanup(func() { h.session.Close() })
	_, err := h.session.NewSession(3)
	require.NoError(t, err)

	m := newChatModel(h.session, &client.Bot{ID: 3, Name: "Shop"}, events)
	if setup != nil {
		setup(h.session, &m)
	}
	h.program = tea.NewProgram(m, tea.WithInput(nil), tea.WithOutput(io.Discard))
	go func() { h.done <- runChatProgram(h.program, h.session) }()
	return h
}

func (h *chatHarness) kinds(kind chat.EventKind) []chat.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []chat.Event
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (h *chatHarness) waitExit(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("chat view did not exit")
	}
}

func TestChatViewQuitDuringReveal(t *testing.T) {
	for _, key := range []tea.KeyPressMsg{
		{Code: tea.KeyEscape},
		{Code: 'c', Mod: tea.ModCtrl},
	} {
		t.Run(key.String(), func(t *testing.T) {
			reply := strings.Repeat("a", 500)
			h := startChatHarness(t, &chatReplies{reply: reply}, func(_ *chat.Session, m *chatModel) {
				m.input.SetValue("hello")
			})

			h.program.Send(tea.KeyPressMsg{Code: tea.KeyEnter})
			require.Eventually(t, func() bool {
				_, active := h.session.Streaming()
				return active
			}, 2*time.Second, time.Millisecond)

			h.program.Send(key)
			h.waitExit(t)

			_, active := h.session.Streaming()
			assert.False(t, active)
			transcript := h.session.Transcript()
			require.Len(t, transcript, 2)
			assert.Equal(t, "hello", transcript[0].Content)
			assert.Equal(t, reply, transcript[1].Content, "reply is committed in full")
		})
	}
}

func TestChatViewSendAndQuit(t *testing.T) {
	api := &chatReplies{reply: "Xin chào!"}
	h := startChatHarness(t, api, func(_ *chat.Session, m *chatModel) {
		m.input.SetValue("hi")
	})

	h.program.Send(tea.KeyPressMsg{Code: tea.KeyEnter})
	require.Eventually(t, func() bool { return len(h.session.Transcript()) == 2 }, 2*time.Second, time.Millisecond)

	h.program.Send(tea.KeyPressMsg{Code: tea.KeyEscape})
	h.waitExit(t)

	assert.Len(t, h.kinds(chat.EventMessage), 2)
	assert.NotEmpty(t, h.kinds(chat.EventReveal))
	api.mu.Lock()
	assert.Equal(t, []string{"hi"}, api.sent)
	api.mu.Unlock()
}

func TestChatViewDeleteLoadedConversation(t *testing.T) {
	api := &chatReplies{reply: "ok"}
	h := startChatHarness(t, api, func(s *chat.Session, m *chatModel) {
		_, err := s.LoadConversation(context.Background(), 42)
		require.NoError(t, err)
		m.input.SetValue("/delete 42")
	})
	require.Len(t, h.kinds(chat.EventReset), 2, "new session and loaded conversation")

	h.program.Send(tea.KeyPressMsg{Code: tea.KeyEnter})
	require.Eventually(t, func() bool { return len(h.kinds(chat.EventReset)) == 3 }, 2*time.Second, time.Millisecond)

	h.program.Send(tea.KeyPressMsg{Code: tea.KeyEscape})
	h.waitExit(t)

	assert.Equal(t, []int{42}, api.deletedIDs())
	assert.Zero(t, h.session.ConversationID())
	assert.Empty(t, h.session.Transcript())
	reset := h.kinds(chat.EventReset)[2]
	assert.Empty(t, reset.Transcript)
	assert.NotEqual(t, "session_3_1_saved", reset.SessionID)
}

func TestEventQueue(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 100; i++ {
		q.push(chat.Event{Kind: chat.EventReveal, Text: strings.Repeat("x", i)})
	}
	for i := 0; i < 100; i++ {
		ev, ok := q.next()
		require.True(t, ok)
		assert.Len(t, ev.Text, i)
	}

	got := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		got <- ok
	}()
	q.close()
	q.close()
	select {
	case ok := <-got:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("next did not return after close")
	}
	assert.Nil(t, waitForEvent(q)())
}

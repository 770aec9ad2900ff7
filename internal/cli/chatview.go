package cli

import (
	"fmt"
	"strings"
	"sync"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/botctl/internal/chat"
	"github.com/raphaelgruber/botctl/internal/client"
)

// chatEventMsg carries a session event into the program
type chatEventMsg chat.Event

// sendResultMsg carries the outcome of one Send
type sendResultMsg struct {
	err error
}

// commandResultMsg carries the outcome of a slash command
type commandResultMsg struct {
	text string
	err  error
}

// eventQueue buffers session events until the program takes them. push
// never blocks, so the session can emit while the event loop is busy.
type eventQueue struct {
	mu     sync.Mutex
	events []chat.Event
	ready  chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *eventQueue) push(ev chat.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next blocks until an event is queued. ok is false once the queue is closed.
func (q *eventQueue) next() (ev chat.Event, ok bool) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			ev = q.events[0]
			q.events = q.events[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
			return chat.Event{}, false
		}
	}
}

// close releases a pending next. Safe to call repeatedly.
func (q *eventQueue) close() {
	q.once.Do(func() { close(q.done) })
}

// waitForEvent takes the next session event in a command.
func waitForEvent(q *eventQueue) tea.Cmd {
	return func() tea.Msg {
		ev, ok := q.next()
		if !ok {
			return nil
		}
		return chatEventMsg(ev)
	}
}

// chatModel is the bubbletea model for an interactive chat session.
type chatModel struct {
	session *chat.Session
	bot     *client.Bot
	events  *eventQueue
	input   textinput.Model
	theme   Theme
	width   int
	height  int
	typing  bool
	pending int
	status  string
	isError bool
}

func newChatModel(s *chat.Session, bot *client.Bot, events *eventQueue) chatModel {
	input := textinput.New()
	input.Placeholder = "Type a message or /help"
	input.CharLimit = 2000

	return chatModel{
		session: s,
		bot:     bot,
		events:  events,
		input:   input,
		theme:   defaultTheme,
		width:   80,
		height:  24,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.input.Focus(), waitForEvent(m.events))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			if strings.HasPrefix(text, "/") {
				return m.runCommand(text)
			}
			m.pending++
			m.status = ""
			return m, m.send(text)
		}

	case chatEventMsg:
		switch msg.Kind {
		case chat.EventTyping:
			m.typing = msg.Typing
		case chat.EventMessage:
			if msg.Message != nil && msg.Message.Sender == chat.SenderBot {
				m.typing = false
			}
		case chat.EventError:
			m.setStatus(msg.Err.Error(), true)
		case chat.EventReset:
			m.typing = false
		}
		return m, waitForEvent(m.events)

	case sendResultMsg:
		m.pending--
		if msg.err != nil {
			m.setStatus("send failed: "+msg.err.Error(), true)
		}
		return m, nil

	case commandResultMsg:
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(msg.text, false)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) setStatus(text string, isError bool) {
	m.status = text
	m.isError = isError
}

// send runs one turn in a command to keep Update non-blocking.
func (m chatModel) send(text string) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		ctx, cancel := requestContext()
		defer cancel()
		_, err := s.Send(ctx, text)
		return sendResultMsg{err: err}
	}
}

// runCommand handles slash commands.
func (m chatModel) runCommand(line string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(line)
	name, rest := fields[0], fields[1:]
	s := m.session

	switch name {
	case "/quit", "/exit":
		return m, tea.Quit

	case "/help":
		m.setStatus("/new  /save  /history  /load <id>  /delete <id>  /quit", false)
		return m, nil

	case "/new":
		return m, func() tea.Msg {
			id, err := s.NewSession(s.BotID())
			if err != nil {
				return commandResultMsg{err: err}
			}
			if chatPush {
				ctx, cancel := requestContext()
				defer cancel()
				if err := dialPush(ctx, s); err != nil {
					return commandResultMsg{err: err}
				}
			}
			return commandResultMsg{text: "new session " + id}
		}

	case "/save":
		on := !s.AutoSave()
		s.SetAutoSave(on)
		if err := store.SetAutoSave(on); err != nil {
			logger.Warn("persist auto-save", "error", err)
		}
		if on {
			m.setStatus("conversations are saved", false)
		} else {
			m.setStatus("conversations are not saved", false)
		}
		return m, nil

	case "/history":
		return m, func() tea.Msg {
			ctx, cancel := requestContext()
			defer cancel()
			history, err := s.LoadHistory(ctx, chat.DefaultHistoryLimit)
			if err != nil {
				return commandResultMsg{err: err}
			}
			if len(history) == 0 {
				return commandResultMsg{text: "no saved conversations"}
			}
			lines := make([]string, 0, len(history))
			for _, c := range history {
				lines = append(lines, formatSummary(c))
			}
			return commandResultMsg{text: strings.Join(lines, "\n")}
		}

	case "/load", "/delete":
		if len(rest) != 1 {
			m.setStatus("usage: "+name+" <conversation-id>", true)
			return m, nil
		}
		id, err := parseID("conversation", rest[0])
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		if name == "/delete" {
			return m, func() tea.Msg {
				ctx, cancel := requestContext()
				defer cancel()
				if err := s.DeleteConversation(ctx, id); err != nil {
					return commandResultMsg{err: err}
				}
				return commandResultMsg{text: fmt.Sprintf("deleted conversation #%d", id)}
			}
		}
		return m, func() tea.Msg {
			ctx, cancel := requestContext()
			defer cancel()
			conv, err := s.LoadConversation(ctx, id)
			if err != nil {
				return commandResultMsg{err: err}
			}
			if chatPush {
				if err := dialPush(ctx, s); err != nil {
					return commandResultMsg{err: err}
				}
			}
			return commandResultMsg{text: fmt.Sprintf("loaded conversation #%d (%d messages)", conv.ID, len(conv.Messages))}
		}
	}

	m.setStatus("unknown command "+name+", try /help", true)
	return m, nil
}

func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m chatModel) renderContent() string {
	var b strings.Builder

	save := "save off"
	if m.session.AutoSave() {
		save = "save on"
	}
	transport := "http"
	if m.session.PushAttached() {
		transport = "push"
	}
	header := fmt.Sprintf("Chat with %s (#%d) • %s • %s", m.bot.Name, m.bot.ID, save, transport)
	b.WriteString(m.theme.statusStyle().Bold(true).Render(header) + "\n")
	b.WriteString(m.theme.hintStyle().Render(m.session.SessionID()) + "\n\n")

	// Reserve header, input, status and hint lines.
	body := m.renderTranscript()
	if avail := m.height - 8; avail > 0 && len(body) > avail {
		body = body[len(body)-avail:]
	}
	for _, line := range body {
		b.WriteString(line + "\n")
	}

	if _, streaming := m.session.Streaming(); m.typing || (m.pending > 0 && !streaming) {
		b.WriteString(m.theme.hintStyle().Render(m.bot.Name+" is typing...") + "\n")
	}

	b.WriteString("\n" + m.input.View() + "\n")
	if m.status != "" {
		if m.isError {
			b.WriteString(m.theme.errorStyle().Render(m.status) + "\n")
		} else {
			b.WriteString(m.theme.hintStyle().Render(m.status) + "\n")
		}
	}
	return b.String()
}

// renderTranscript returns the wrapped transcript lines, streaming reply last.
func (m chatModel) renderTranscript() []string {
	width := m.width - 2
	if width < 20 {
		width = 20
	}
	wrap := lipgloss.NewStyle().Width(width)
	userStyle := m.theme.statusStyle()
	botStyle := m.theme.completedStyle().UnsetBold()

	var lines []string
	add := func(style lipgloss.Style, who, text string) {
		rendered := wrap.Render(style.Render(who+": ") + text)
		lines = append(lines, strings.Split(rendered, "\n")...)
	}

	for _, msg := range m.session.Transcript() {
		if msg.Sender == chat.SenderUser {
			add(userStyle, "you", msg.Content)
			continue
		}
		text := msg.Content
		if msg.Intent != nil && *msg.Intent != "" && verbose {
			text += m.theme.hintStyle().Render(fmt.Sprintf("  [%s]", *msg.Intent))
		}
		add(botStyle, m.bot.Name, text)
	}
	if text, active := m.session.Streaming(); active {
		add(botStyle, m.bot.Name, text+"▌")
	}
	return lines
}

// runChatView runs the interactive chat until the user quits.
func runChatView(bot *client.Bot, autoSave bool) error {
	events := newEventQueue()
	defer events.close()

	s := chat.New(api,
		chat.WithLogger(logger),
		chat.WithAutoSave(autoSave),
		chat.WithRevealInterval(cfg.RevealInterval),
		chat.WithEventSink(events.push),
	)
	defer s.Close()

	if err := startSession(s, bot.ID); err != nil {
		return err
	}

	return runChatProgram(tea.NewProgram(newChatModel(s, bot, events)), s)
}

// runChatProgram runs p until the user quits. A reply still being revealed
// is committed once the view is gone.
func runChatProgram(p *tea.Program, s *chat.Session) error {
	_, err := p.Run()
	s.Flush()
	if err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}

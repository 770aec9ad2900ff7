package cli

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/botctl/internal/chat"
	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/raphaelgruber/botctl/internal/config"
	"github.com/raphaelgruber/botctl/internal/metrics"
	"github.com/raphaelgruber/botctl/internal/monitor"
	"github.com/raphaelgruber/botctl/internal/state"
	"github.com/raphaelgruber/botctl/internal/trainingdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupGlobals(t *testing.T) {
	t.Helper()
	var err error
	store, err = state.Open(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg = &config.Config{Timeout: 5 * time.Second}
	t.Cleanup(func() {
		store = nil
		logger = nil
		cfg = nil
	})
}

func TestParseID(t *testing.T) {
	id, err := parseID("bot", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	for _, arg := range []string{"0", "-1", "seven", ""} {
		_, err := parseID("bot", arg)
		assert.Error(t, err, "arg %q", arg)
	}
}

func TestBotArgFallsBackToLastBot(t *testing.T) {
	setupGlobals(t)

	_, err := botArg(nil)
	assert.Error(t, err)

	require.NoError(t, store.SetLastBot(9))
	id, err := botArg(nil)
	require.NoError(t, err)
	assert.Equal(t, 9, id)

	id, err = botArg([]string{"4"})
	require.NoError(t, err)
	assert.Equal(t, 4, id)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Trợ lý...", truncate("Trợ lý bán hàng", 9))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestPrintPreview(t *testing.T) {
	examples := []trainingdata.Example{
		{User: "xin chào", Bot: "Chào bạn!", Intent: "greeting"},
		{User: "hello", Bot: "Hi!", Intent: "greeting"},
		{User: "giá bao nhiêu", Bot: "100k", Intent: "price_inquiry"},
	}
	var buf bytes.Buffer
	printPreview(&buf, examples)

	out := buf.String()
	assert.Contains(t, out, "Parsed 3 example(s) in 2 intent(s)")
	assert.Contains(t, out, "greeting")
	assert.Contains(t, out, "[price_inquiry] giá bao nhiêu")
}

func TestPrintStats(t *testing.T) {
	mc := metrics.NewCollector()
	mc.RecordRequest(client.OpBots, 12*time.Millisecond, false)
	mc.RecordRequest(client.OpBots, 8*time.Millisecond, true)

	var buf bytes.Buffer
	printStats(&buf, mc.Snapshot())
	assert.Contains(t, buf.String(), client.OpBots+":")
	assert.Contains(t, buf.String(), "Calls: 2, Errors: 1")

	buf.Reset()
	printStats(&buf, metrics.NewCollector().Snapshot())
	assert.Empty(t, buf.String())
}

func TestJobSummary(t *testing.T) {
	secs := 95
	model := "models/bot_7.tar.gz"
	job := &client.TrainingJob{
		ID:              3,
		DurationSeconds: &secs,
		ModelPath:       &model,
		Metrics:         map[string]any{"accuracy": 0.93, "intents": 2},
	}
	out := jobSummary(job)
	assert.Contains(t, out, "Duration: 1m35s")
	assert.Contains(t, out, model)
	assert.Regexp(t, `accuracy\s+0.93[\s\S]*intents\s+2`, out)
}

func TestProgressModel(t *testing.T) {
	m := newProgressModel(monitor.New(nil), 3, nil)
	assert.Contains(t, m.renderContent(), "Loading job 3")

	next, cmd := m.Update(jobUpdateMsg{JobID: 3, Job: &client.TrainingJob{ID: 3, Status: client.JobStatusRunning, Progress: 45},
		Logs: []client.TrainingLog{{Level: client.LogLevelInfo, Message: "epoch 4/10"}}})
	pm := next.(progressModel)
	assert.False(t, pm.done)
	assert.NotNil(t, cmd)
	view := pm.renderContent()
	assert.Contains(t, view, " 45%")
	assert.Contains(t, view, "epoch 4/10")

	// A failed poll keeps the last known job on screen.
	next, _ = pm.Update(jobUpdateMsg{JobID: 3, Err: assert.AnError})
	pm = next.(progressModel)
	require.NotNil(t, pm.job)
	assert.Contains(t, pm.renderContent(), "poll failed")

	reason := "out of memory"
	next, cmd = pm.Update(jobUpdateMsg{JobID: 3, Job: &client.TrainingJob{ID: 3, Status: client.JobStatusFailed, Progress: 60, ErrorMessage: &reason}})
	pm = next.(progressModel)
	assert.True(t, pm.done)
	require.Error(t, pm.err)
	assert.Equal(t, reason, pm.err.Error())
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Contains(t, pm.renderContent(), "Training failed")
}

func TestProgressModelCompleted(t *testing.T) {
	m := newProgressModel(monitor.New(nil), 5, nil)
	next, _ := m.Update(jobUpdateMsg{JobID: 5, Job: &client.TrainingJob{ID: 5, Status: client.JobStatusCompleted, Progress: 100}})
	pm := next.(progressModel)
	assert.True(t, pm.done)
	assert.NoError(t, pm.err)
	assert.Contains(t, pm.renderContent(), "Training completed")

	next, _ = m.Update(updatesClosedMsg{})
	assert.True(t, next.(progressModel).done)
}

func TestChatCommands(t *testing.T) {
	setupGlobals(t)

	s := chat.New(nil, chat.WithLogger(logger))
	defer s.Close()
	_, err := s.NewSession(3)
	require.NoError(t, err)

	m := newChatModel(s, &client.Bot{ID: 3, Name: "Shop"}, newEventQueue())
	assert.Contains(t, m.renderContent(), "Chat with Shop (#3)")
	assert.Contains(t, m.renderContent(), "save on")

	next, _ := m.runCommand("/save")
	cm := next.(chatModel)
	assert.False(t, s.AutoSave())
	assert.False(t, store.AutoSave(), "toggle is persisted")
	assert.Contains(t, cm.renderContent(), "save off")

	next, _ = cm.runCommand("/load abc")
	cm = next.(chatModel)
	assert.True(t, cm.isError)

	next, _ = cm.runCommand("/bogus")
	cm = next.(chatModel)
	assert.True(t, cm.isError)
	assert.Contains(t, cm.status, "unknown command")

	next, cmd := cm.runCommand("/quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	_ = next
}

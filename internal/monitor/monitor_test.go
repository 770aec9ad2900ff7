package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 5 * time.Millisecond

// fakeAPI replays a scripted sequence of job states. Once the script is
// exhausted the last state is repeated.
type fakeAPI struct {
	mu       sync.Mutex
	script   []client.TrainingJob
	pos      int
	getErrs  map[int]error // call index -> error
	started  *client.TrainingJob
	startErr error

	getCalls    atomic.Int32
	logCalls    atomic.Int32
	cancelCalls atomic.Int32
	deleteCalls atomic.Int32
}

func (f *fakeAPI) StartTraining(ctx context.Context, botID int) (*client.TrainingJob, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	job := *f.started
	return &job, nil
}

func (f *fakeAPI) GetTrainingJob(ctx context.Context, jobID int) (*client.TrainingJob, error) {
	n := int(f.getCalls.Add(1))
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.getErrs[n]; ok {
		return nil, err
	}
	job := f.script[f.pos]
	if f.pos < len(f.script)-1 {
		f.pos++
	}
	return &job, nil
}

func (f *fakeAPI) GetTrainingLogs(ctx context.Context, jobID int, opts client.LogOptions) ([]client.TrainingLog, error) {
	f.logCalls.Add(1)
	now := time.Now()
	return []client.TrainingLog{
		{ID: 2, JobID: jobID, Timestamp: client.Timestamp{Time: now.Add(time.Second)}, Level: client.LogLevelInfo, Message: "second"},
		{ID: 1, JobID: jobID, Timestamp: client.Timestamp{Time: now}, Level: client.LogLevelInfo, Message: "first"},
	}, nil
}

func (f *fakeAPI) CancelTrainingJob(ctx context.Context, jobID int) error {
	f.cancelCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	// Cancellation lands on the next read.
	f.script = append(f.script[:f.pos], client.TrainingJob{ID: jobID, BotID: 7, Status: client.JobStatusCancelled, Progress: 45})
	return nil
}

func (f *fakeAPI) DeleteTrainingJob(ctx context.Context, jobID int) error {
	f.deleteCalls.Add(1)
	return nil
}

func (f *fakeAPI) ListTrainingJobs(ctx context.Context, botID, limit int) ([]client.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []client.TrainingJob{f.script[len(f.script)-1]}, nil
}

func job(status client.JobStatus, progress int) client.TrainingJob {
	return client.TrainingJob{ID: 42, BotID: 7, Status: status, Progress: progress}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain collects updates until the channel closes.
func drain(t *testing.T, ch <-chan Update) []Update {
	t.Helper()
	var updates []Update
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-timeout:
			t.Fatal("poll loop did not finish")
			return nil
		}
	}
}

func TestMonitor_TrainingScenario(t *testing.T) {
	api := &fakeAPI{
		started: &client.TrainingJob{ID: 42, BotID: 7, Status: client.JobStatusPending},
		script: []client.TrainingJob{
			job(client.JobStatusPending, 0),
			job(client.JobStatusRunning, 45),
			job(client.JobStatusRunning, 45),
			job(client.JobStatusCompleted, 100),
		},
	}

	var completions atomic.Int32
	m := New(api,
		WithInterval(testInterval),
		WithLogger(quietLogger()),
		WithOnComplete(func(j *client.TrainingJob) {
			completions.Add(1)
			assert.Equal(t, 100, j.Progress)
		}),
	)
	defer m.Close()

	ctx := context.Background()
	started, err := m.Start(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, client.JobStatusPending, started.Status)
	assert.True(t, m.Cancellable(42))

	ch, err := m.Open(ctx, started.ID)
	require.NoError(t, err)
	updates := drain(t, ch)

	require.Len(t, updates, 4)
	assert.Equal(t, client.JobStatusPending, updates[0].Job.Status)
	assert.Equal(t, client.JobStatusRunning, updates[1].Job.Status)
	assert.Equal(t, 45, updates[1].Job.Progress)
	assert.Equal(t, client.JobStatusCompleted, updates[3].Job.Status)
	assert.Equal(t, 100, updates[3].Job.Progress)
	assert.Equal(t, int32(1), completions.Load())

	// Logs arrive in timestamp order.
	require.Len(t, updates[0].Logs, 2)
	assert.Equal(t, "first", updates[0].Logs[0].Message)

	// No poll after the terminal status.
	calls := api.getCalls.Load()
	time.Sleep(10 * testInterval)
	assert.Equal(t, calls, api.getCalls.Load())

	// Reopening the finished job: one fetch, no completion, nothing to cancel.
	ch, err = m.Open(ctx, 42)
	require.NoError(t, err)
	updates = drain(t, ch)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Terminal())
	assert.Equal(t, int32(1), completions.Load())
	assert.False(t, m.Cancellable(42))

	err = m.Cancel(ctx, 42)
	assert.ErrorIs(t, err, ErrJobTerminal)
	assert.Zero(t, api.cancelCalls.Load())
}

func TestMonitor_TerminalAtFirstFetch(t *testing.T) {
	for _, status := range []client.JobStatus{client.JobStatusFailed, client.JobStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			api := &fakeAPI{script: []client.TrainingJob{job(status, 10)}}
			var completions atomic.Int32
			m := New(api, WithInterval(testInterval), WithLogger(quietLogger()),
				WithOnComplete(func(*client.TrainingJob) { completions.Add(1) }))

			ch, err := m.Open(context.Background(), 42)
			require.NoError(t, err)
			updates := drain(t, ch)

			require.Len(t, updates, 1)
			time.Sleep(5 * testInterval)
			assert.Equal(t, int32(1), api.getCalls.Load())
			assert.Zero(t, completions.Load())
		})
	}
}

func TestMonitor_FetchErrorsDoNotStopPolling(t *testing.T) {
	api := &fakeAPI{
		script: []client.TrainingJob{job(client.JobStatusRunning, 20), job(client.JobStatusCompleted, 100)},
		getErrs: map[int]error{
			1: errors.New("connection refused"),
			2: errors.New("timeout"),
		},
	}
	m := New(api, WithInterval(testInterval), WithLogger(quietLogger()))

	ch, err := m.Open(context.Background(), 42)
	require.NoError(t, err)
	updates := drain(t, ch)

	require.Len(t, updates, 4)
	assert.Nil(t, updates[0].Job, "initial failure leaves the view loading")
	assert.Error(t, updates[0].Err)
	assert.Error(t, updates[1].Err)
	assert.Equal(t, client.JobStatusRunning, updates[2].Job.Status)
	assert.True(t, updates[3].Terminal())
}

func TestMonitor_Cancel(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusRunning, 45)}}
	// Long interval: only the forced refresh can observe the cancellation in time.
	m := New(api, WithInterval(time.Hour), WithLogger(quietLogger()))
	defer m.Close()

	ctx := context.Background()
	ch, err := m.Open(ctx, 42)
	require.NoError(t, err)

	first := <-ch
	require.NotNil(t, first.Job)
	assert.Equal(t, client.JobStatusRunning, first.Job.Status)

	require.NoError(t, m.Cancel(ctx, 42))
	assert.Equal(t, int32(1), api.cancelCalls.Load())

	rest := drain(t, ch)
	require.NotEmpty(t, rest)
	assert.Equal(t, client.JobStatusCancelled, rest[len(rest)-1].Job.Status)

	assert.ErrorIs(t, m.Cancel(ctx, 42), ErrJobTerminal)
	assert.Equal(t, int32(1), api.cancelCalls.Load())
}

func TestMonitor_CancelWithoutOpenLoop(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusPending, 0)}}
	m := New(api, WithLogger(quietLogger()))

	require.NoError(t, m.Cancel(context.Background(), 42))
	assert.Equal(t, int32(1), api.cancelCalls.Load())

	status, ok := m.Status(42)
	require.True(t, ok)
	assert.Equal(t, client.JobStatusCancelled, status)
}

func TestMonitor_DeleteRequiresTerminal(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusRunning, 45)}}
	m := New(api, WithLogger(quietLogger()))
	ctx := context.Background()

	err := m.Delete(ctx, 42)
	assert.ErrorIs(t, err, ErrJobNotTerminal)
	assert.Zero(t, api.deleteCalls.Load())

	api.mu.Lock()
	api.script = []client.TrainingJob{job(client.JobStatusFailed, 45)}
	api.pos = 0
	api.mu.Unlock()

	require.NoError(t, m.Delete(ctx, 42))
	assert.Equal(t, int32(1), api.deleteCalls.Load())
	_, known := m.Status(42)
	assert.False(t, known)
}

func TestMonitor_CloseIsIdempotent(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusRunning, 10)}}
	m := New(api, WithInterval(testInterval), WithLogger(quietLogger()))

	m.Close() // nothing open yet

	ch, err := m.Open(context.Background(), 42)
	require.NoError(t, err)
	<-ch

	m.Close()
	m.Close()
	drain(t, ch)

	calls := api.getCalls.Load()
	time.Sleep(10 * testInterval)
	assert.Equal(t, calls, api.getCalls.Load())
}

func TestMonitor_OpenReplacesPreviousLoop(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusRunning, 10)}}
	m := New(api, WithInterval(testInterval), WithLogger(quietLogger()))
	defer m.Close()

	first, err := m.Open(context.Background(), 42)
	require.NoError(t, err)
	<-first

	second, err := m.Open(context.Background(), 42)
	require.NoError(t, err)

	// The first loop is torn down and its channel closed.
	drain(t, first)

	u := <-second
	assert.Equal(t, 42, u.JobID)
}

func TestMonitor_OpenStopsOnContextCancel(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusRunning, 10)}}
	m := New(api, WithInterval(testInterval), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := m.Open(ctx, 42)
	require.NoError(t, err)
	<-ch
	cancel()
	drain(t, ch)
}

func TestMonitor_InvalidJobID(t *testing.T) {
	m := New(&fakeAPI{}, WithLogger(quietLogger()))
	_, err := m.Open(context.Background(), 0)
	assert.ErrorIs(t, err, client.ErrInvalidID)
}

func TestMonitor_StartFailureDoesNotPoll(t *testing.T) {
	api := &fakeAPI{startErr: &client.APIError{StatusCode: 400, Detail: "A training job is already running for this bot"}}
	m := New(api, WithLogger(quietLogger()))

	_, err := m.Start(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrBadRequest)
	assert.Contains(t, err.Error(), "already running")
	assert.Zero(t, api.getCalls.Load())
}

func TestMonitor_History(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusCompleted, 100)}}
	m := New(api, WithLogger(quietLogger()))

	jobs, err := m.History(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.False(t, m.Cancellable(42))
}

func TestMonitor_CompletionRunsBeforeTerminalUpdate(t *testing.T) {
	api := &fakeAPI{script: []client.TrainingJob{job(client.JobStatusRunning, 50), job(client.JobStatusCompleted, 100)}}
	var completions atomic.Int32
	m := New(api, WithInterval(testInterval), WithLogger(quietLogger()),
		WithOnComplete(func(*client.TrainingJob) {
			// A slow callback must still finish before the terminal update is seen.
			time.Sleep(5 * testInterval)
			completions.Add(1)
		}))
	defer m.Close()

	ch, err := m.Open(context.Background(), 42)
	require.NoError(t, err)

	var terminal bool
	for u := range ch {
		if u.Terminal() {
			terminal = true
			assert.Equal(t, int32(1), completions.Load())
		}
	}
	assert.True(t, terminal)
}

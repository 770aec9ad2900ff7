// Package monitor drives the observable lifecycle of training jobs: submit,
// poll until a terminal status, cancel, and delete.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/raphaelgruber/botctl/internal/client"
)

const (
	// DefaultPollInterval is the cadence of job and log re-fetches.
	DefaultPollInterval = 2 * time.Second

	// DefaultLogLimit is the number of log entries fetched per poll.
	DefaultLogLimit = 1000
)

var (
	// ErrJobTerminal indicates an action that requires a pending or running job.
	ErrJobTerminal = errors.New("job already finished")

	// ErrJobNotTerminal indicates an action that requires a finished job.
	ErrJobNotTerminal = errors.New("job is still active")
)

// JobAPI is the subset of the platform client the monitor needs.
type JobAPI interface {
	StartTraining(ctx context.Context, botID int) (*client.TrainingJob, error)
	GetTrainingJob(ctx context.Context, jobID int) (*client.TrainingJob, error)
	GetTrainingLogs(ctx context.Context, jobID int, opts client.LogOptions) ([]client.TrainingLog, error)
	CancelTrainingJob(ctx context.Context, jobID int) error
	DeleteTrainingJob(ctx context.Context, jobID int) error
	ListTrainingJobs(ctx context.Context, botID, limit int) ([]client.TrainingJob, error)
}

// Update is the result of one poll. Job is nil when the job fetch failed.
type Update struct {
	JobID int
	Job   *client.TrainingJob
	Logs  []client.TrainingLog
	Err   error
}

// Terminal reports whether the update carries a final status.
func (u Update) Terminal() bool {
	return u.Job != nil && u.Job.Status.Terminal()
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogLimit sets how many log entries are fetched per poll.
func WithLogLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.logLimit = n
		}
	}
}

// WithOnComplete registers a callback fired once per job that reaches completed.
func WithOnComplete(fn func(*client.TrainingJob)) Option {
	return func(m *Monitor) {
		m.onComplete = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Monitor owns at most one poll loop at a time.
// All methods are safe for concurrent use.
type Monitor struct {
	api        JobAPI
	interval   time.Duration
	logLimit   int
	onComplete func(*client.TrainingJob)
	logger     *slog.Logger

	mu       sync.Mutex
	gen      uint64 // bumped whenever the active loop is replaced or closed
	cancel   context.CancelFunc
	refresh  chan struct{}
	jobID    int
	last     map[int]client.JobStatus
	notified map[int]bool
}

// New creates a monitor backed by api.
func New(api JobAPI, opts ...Option) *Monitor {
	m := &Monitor{
		api:      api,
		interval: DefaultPollInterval,
		logLimit: DefaultLogLimit,
		logger:   slog.Default(),
		last:     make(map[int]client.JobStatus),
		notified: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start submits a training job for a bot. No polling is started; pass the
// returned job's ID to Open.
func (m *Monitor) Start(ctx context.Context, botID int) (*client.TrainingJob, error) {
	job, err := m.api.StartTraining(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("start training for bot %d: %w", botID, err)
	}
	m.observe(job)
	m.logger.Info("training job submitted", "bot_id", botID, "job_id", job.ID, "status", job.Status)
	return job, nil
}

// Open tears down any previous poll loop and starts polling jobID. The first
// fetch happens immediately. The returned channel is closed when the job
// reaches a terminal status, ctx is cancelled, Close is called, or Open is
// called again.
func (m *Monitor) Open(ctx context.Context, jobID int) (<-chan Update, error) {
	if jobID <= 0 {
		return nil, fmt.Errorf("%w: training job %d", client.ErrInvalidID, jobID)
	}

	m.mu.Lock()
	m.stopLocked()
	loopCtx, cancel := context.WithCancel(ctx)
	gen := m.gen
	refresh := make(chan struct{}, 1)
	m.cancel = cancel
	m.refresh = refresh
	m.jobID = jobID
	m.mu.Unlock()

	out := make(chan Update, 1)
	go m.run(loopCtx, gen, jobID, refresh, out)
	return out, nil
}

// Close stops the active poll loop, if any. In-flight fetches are abandoned
// and their results discarded. Safe to call repeatedly.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// stopLocked cancels the loop and invalidates its generation. Caller must hold mu.
func (m *Monitor) stopLocked() {
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.refresh = nil
	m.jobID = 0
	m.gen++
}

// Cancel requests cancellation of a pending or running job and triggers an
// immediate re-fetch of the open loop. The loop keeps running until it
// observes the terminal status.
func (m *Monitor) Cancel(ctx context.Context, jobID int) error {
	status, known := m.Status(jobID)
	if !known {
		job, err := m.api.GetTrainingJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("get job %d: %w", jobID, err)
		}
		m.observe(job)
		status = job.Status
	}
	if status.Terminal() {
		return fmt.Errorf("%w: job %d is %s", ErrJobTerminal, jobID, status)
	}

	if err := m.api.CancelTrainingJob(ctx, jobID); err != nil {
		return fmt.Errorf("cancel job %d: %w", jobID, err)
	}
	m.logger.Info("training job cancel requested", "job_id", jobID)

	m.mu.Lock()
	refresh := m.refresh
	open := m.jobID == jobID
	m.mu.Unlock()

	if open && refresh != nil {
		select {
		case refresh <- struct{}{}:
		default:
		}
		return nil
	}

	// No loop is watching this job; refresh the cached status directly.
	if job, err := m.api.GetTrainingJob(ctx, jobID); err == nil {
		m.observe(job)
	}
	return nil
}

// Delete removes a finished job and its logs. Active jobs are rejected
// without contacting the delete endpoint.
func (m *Monitor) Delete(ctx context.Context, jobID int) error {
	job, err := m.api.GetTrainingJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job %d: %w", jobID, err)
	}
	m.observe(job)
	if !job.Status.Terminal() {
		return fmt.Errorf("%w: job %d is %s", ErrJobNotTerminal, jobID, job.Status)
	}
	if err := m.api.DeleteTrainingJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %d: %w", jobID, err)
	}

	m.mu.Lock()
	delete(m.last, jobID)
	m.mu.Unlock()

	m.logger.Info("training job deleted", "job_id", jobID)
	return nil
}

// History lists the recent jobs of a bot, newest first.
func (m *Monitor) History(ctx context.Context, botID, limit int) ([]client.TrainingJob, error) {
	jobs, err := m.api.ListTrainingJobs(ctx, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for bot %d: %w", botID, err)
	}
	for i := range jobs {
		m.observe(&jobs[i])
	}
	return jobs, nil
}

// Status returns the last observed status of a job.
func (m *Monitor) Status(jobID int) (client.JobStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.last[jobID]
	return s, ok
}

// Cancellable reports whether the last observed status allows Cancel.
// Unknown jobs are reported as not cancellable.
func (m *Monitor) Cancellable(jobID int) bool {
	s, ok := m.Status(jobID)
	return ok && s.Cancellable()
}

func (m *Monitor) observe(job *client.TrainingJob) {
	if job == nil {
		return
	}
	m.mu.Lock()
	m.last[job.ID] = job.Status
	m.mu.Unlock()
}

// run is the poll loop. It owns the only in-flight fetch for its generation.
func (m *Monitor) run(ctx context.Context, gen uint64, jobID int, refresh <-chan struct{}, out chan<- Update) {
	defer close(out)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		u := m.fetch(ctx, jobID)

		completed, ok := m.record(gen, u)
		if !ok || ctx.Err() != nil {
			return
		}

		// onComplete returns before the terminal update is delivered.
		if completed && m.onComplete != nil {
			m.onComplete(u.Job)
		}

		select {
		case out <- u:
		case <-ctx.Done():
			return
		}
		if u.Terminal() {
			m.logger.Info("training job finished", "job_id", jobID, "status", u.Job.Status)
			m.release(gen)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-refresh:
		}
	}
}

// fetch reads the job and its logs. Errors are logged and carried on the update.
func (m *Monitor) fetch(ctx context.Context, jobID int) Update {
	u := Update{JobID: jobID}

	job, err := m.api.GetTrainingJob(ctx, jobID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("poll job failed", "job_id", jobID, "error", err)
		}
		u.Err = fmt.Errorf("get job %d: %w", jobID, err)
		return u
	}
	u.Job = job

	logs, err := m.api.GetTrainingLogs(ctx, jobID, client.LogOptions{Limit: m.logLimit})
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("poll logs failed", "job_id", jobID, "error", err)
		}
		u.Err = fmt.Errorf("get logs for job %d: %w", jobID, err)
		return u
	}
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.Before(logs[j].Timestamp.Time)
	})
	u.Logs = logs
	return u
}

// record stores the observed status if gen is still current. completed is true
// the first time this monitor sees the job completed.
func (m *Monitor) record(gen uint64, u Update) (completed, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return false, false
	}
	if u.Job == nil {
		return false, true
	}
	m.last[u.JobID] = u.Job.Status
	if u.Job.Status == client.JobStatusCompleted && !m.notified[u.JobID] {
		m.notified[u.JobID] = true
		return true, true
	}
	return false, true
}

// release drops the loop's resources after it stopped on its own.
func (m *Monitor) release(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = nil
	m.refresh = nil
}

package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/botctl/internal/client"
	"github.com/raphaelgruber/botctl/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	trainDetach bool
	jobsLimit   int
	logsLimit   int
	logsOffset  int
	logsLevel   string
	jobForce    bool
)

var trainCmd = &cobra.Command{
	Use:   "train <bot-id>",
	Short: "Start a training job and follow its progress",
	Long: `Start an asynchronous training job for a bot and follow it until it
finishes. Press c to cancel the job or q to leave it running in the background.

Examples:
  botctl train 7
  botctl train 7 --detach`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationInteractive: "true"},
	RunE:        runTrain,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs <bot-id>",
	Short: "List the training jobs of a bot",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobs,
}

var jobCmd = &cobra.Command{
	Use:   "job <job-id>",
	Short: "Show a training job with its logs",
	Long: `Show a training job with its logs.

Examples:
  botctl job 12
  botctl job 12 --level ERROR
  botctl job 12 --limit 50 --offset 100
  botctl job delete 12`,
	Args: cobra.ExactArgs(1),
	RunE: runShowJob,
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a finished training job and its logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteJob,
}

var watchCmd = &cobra.Command{
	Use:         "watch <job-id>",
	Short:       "Follow a training job until it finishes",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationInteractive: "true"},
	RunE:        runWatch,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running training job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <bot-id>",
	Short: "List legacy synchronous training sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessions,
}

func init() {
	trainCmd.Flags().BoolVarP(&trainDetach, "detach", "d", false, "start the job without following it")

	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "max jobs")

	jobCmd.Flags().IntVarP(&logsLimit, "limit", "n", 100, "max log entries")
	jobCmd.Flags().IntVar(&logsOffset, "offset", 0, "skip this many log entries")
	jobCmd.Flags().StringVarP(&logsLevel, "level", "l", "", "only show DEBUG, INFO, WARNING or ERROR entries")

	jobDeleteCmd.Flags().BoolVarP(&jobForce, "force", "f", false, "skip confirmation")
	jobCmd.AddCommand(jobDeleteCmd)
}

// newMonitor builds a monitor bound to the configured poll cadence.
func newMonitor() *monitor.Monitor {
	return monitor.New(api,
		monitor.WithInterval(cfg.PollInterval),
		monitor.WithLogger(logger),
		monitor.WithOnComplete(func(job *client.TrainingJob) {
			logger.Info("training completed", "job_id", job.ID, "bot_id", job.BotID)
			if err := store.SetLastBot(job.BotID); err != nil {
				logger.Warn("remember bot", "bot_id", job.BotID, "error", err)
			}
		}),
	)
}

func runTrain(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	mon := newMonitor()
	job, err := mon.Start(ctx, botID)
	if err != nil {
		return err
	}

	fmt.Printf("Started training job #%d for bot %d\n", job.ID, botID)
	if trainDetach {
		fmt.Printf("Use 'botctl watch %d' to follow it.\n", job.ID)
		return nil
	}
	return RunJobProgress(mon, job.ID)
}

func runWatch(cmd *cobra.Command, args []string) error {
	jobID, err := parseID("training job", args[0])
	if err != nil {
		return err
	}
	return RunJobProgress(newMonitor(), jobID)
}

func runCancel(cmd *cobra.Command, args []string) error {
	jobID, err := parseID("training job", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := newMonitor().Cancel(ctx, jobID); err != nil {
		if errors.Is(err, monitor.ErrJobTerminal) {
			return fmt.Errorf("job %d has already finished", jobID)
		}
		return err
	}
	fmt.Printf("Cancellation requested for job #%d\n", jobID)
	return nil
}

func runDeleteJob(cmd *cobra.Command, args []string) error {
	jobID, err := parseID("training job", args[0])
	if err != nil {
		return err
	}

	if !jobForce {
		ok, err := confirm(fmt.Sprintf("Delete training job #%d and its logs?", jobID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx, cancel := requestContext()
	defer cancel()

	if err := newMonitor().Delete(ctx, jobID); err != nil {
		if errors.Is(err, monitor.ErrJobNotTerminal) {
			return fmt.Errorf("job %d is still active, cancel it first with 'botctl cancel %d'", jobID, jobID)
		}
		return err
	}
	fmt.Printf("Deleted training job #%d\n", jobID)
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	jobs, err := newMonitor().History(ctx, botID, jobsLimit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No training jobs found")
		return nil
	}

	fmt.Printf("%-8s %-11s %-9s %-10s %s\n", "ID", "STATUS", "PROGRESS", "DURATION", "CREATED")
	fmt.Println(strings.Repeat("-", 64))

	for _, job := range jobs {
		duration := "-"
		if d, ok := job.Duration(); ok {
			duration = d.Round(time.Second).String()
		}
		fmt.Printf("%-8d %-11s %-9s %-10s %s\n",
			job.ID, job.Status, fmt.Sprintf("%d%%", job.Progress), duration, job.CreatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func runShowJob(cmd *cobra.Command, args []string) error {
	jobID, err := parseID("training job", args[0])
	if err != nil {
		return err
	}

	opts := client.LogOptions{Limit: logsLimit, Offset: logsOffset}
	if logsLevel != "" {
		level := client.LogLevel(strings.ToUpper(logsLevel))
		switch level {
		case client.LogLevelDebug, client.LogLevelInfo, client.LogLevelWarning, client.LogLevelError:
			opts.Level = level
		default:
			return fmt.Errorf("invalid log level %q", logsLevel)
		}
	}

	ctx, cancel := requestContext()
	defer cancel()

	job, err := api.GetTrainingJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("job not found: %d", jobID)
		}
		return fmt.Errorf("get job: %w", err)
	}
	logs, err := api.GetTrainingLogs(ctx, jobID, opts)
	if err != nil {
		return fmt.Errorf("get logs: %w", err)
	}

	fmt.Printf("Job: #%d\n", job.ID)
	fmt.Printf("  Bot: %d\n", job.BotID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %d%%\n", job.Progress)
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil && !job.StartedAt.IsZero() {
		fmt.Printf("  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil && !job.CompletedAt.IsZero() {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", *job.ErrorMessage)
	}
	fmt.Print(jobSummary(job))

	if len(logs) == 0 {
		fmt.Println("\nNo log entries.")
		return nil
	}
	fmt.Printf("\nLogs (%d):\n", len(logs))
	for _, l := range logs {
		fmt.Println(formatLogLine(l))
	}
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	botID, err := parseID("bot", args[0])
	if err != nil {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()

	sessions, err := api.TrainingSessions(ctx, botID)
	if err != nil {
		return fmt.Errorf("list training sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No training sessions found")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("#%-6d %-10s %s", s.ID, s.Status, s.StartedAt.Format("2006-01-02 15:04"))
		if s.Accuracy != nil {
			fmt.Printf("  accuracy %.2f", *s.Accuracy)
		}
		if s.VocabularySize != nil {
			fmt.Printf("  vocabulary %d", *s.VocabularySize)
		}
		fmt.Println()
		if s.ErrorMessage != nil && *s.ErrorMessage != "" {
			fmt.Printf("        error: %s\n", *s.ErrorMessage)
		}
	}
	return nil
}

// jobSummary renders duration, model and metrics of a job.
func jobSummary(job *client.TrainingJob) string {
	var b strings.Builder
	if d, ok := job.Duration(); ok {
		fmt.Fprintf(&b, "  Duration: %s\n", d.Round(time.Second))
	}
	if job.ModelPath != nil && *job.ModelPath != "" {
		fmt.Fprintf(&b, "  Model: %s\n", *job.ModelPath)
	}
	if len(job.Metrics) > 0 {
		keys := make([]string, 0, len(job.Metrics))
		for k := range job.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("  Metrics:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "    %-20s %v\n", k, job.Metrics[k])
		}
	}
	return b.String()
}

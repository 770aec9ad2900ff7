package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// =============================================================================
// TRAINING JOB OPERATIONS
// =============================================================================

// StartTraining submits an asynchronous training job for a bot.
// The service rejects the request while another job of the same bot is active.
func (c *Client) StartTraining(ctx context.Context, botID int) (*TrainingJob, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var job TrainingJob
	path := fmt.Sprintf("/api/bots/%d/train", botID)
	if err := c.doJSON(ctx, OpTrainingJobs, http.MethodPost, path, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListTrainingJobs returns the most recent jobs of a bot, newest first.
// A limit <= 0 uses the service default.
func (c *Client) ListTrainingJobs(ctx context.Context, botID, limit int) ([]TrainingJob, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var jobs []TrainingJob
	path := fmt.Sprintf("/api/bots/%d/training-jobs", botID)
	if err := c.doJSON(ctx, OpTrainingJobs, http.MethodGet, path, query, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetTrainingJob retrieves a job by ID.
func (c *Client) GetTrainingJob(ctx context.Context, jobID int) (*TrainingJob, error) {
	if err := checkID("training job", jobID); err != nil {
		return nil, err
	}
	var job TrainingJob
	path := fmt.Sprintf("/api/training-jobs/%d", jobID)
	if err := c.doJSON(ctx, OpTrainingJobs, http.MethodGet, path, nil, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetTrainingLogs returns log entries of a job in timestamp order.
func (c *Client) GetTrainingLogs(ctx context.Context, jobID int, opts LogOptions) ([]TrainingLog, error) {
	if err := checkID("training job", jobID); err != nil {
		return nil, err
	}
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Level != "" {
		query.Set("log_level", string(opts.Level))
	}
	var logs []TrainingLog
	path := fmt.Sprintf("/api/training-jobs/%d/logs", jobID)
	if err := c.doJSON(ctx, OpTrainingJobs, http.MethodGet, path, query, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// CancelTrainingJob asks the service to stop a pending or running job.
func (c *Client) CancelTrainingJob(ctx context.Context, jobID int) error {
	if err := checkID("training job", jobID); err != nil {
		return err
	}
	path := fmt.Sprintf("/api/training-jobs/%d/cancel", jobID)
	return c.doJSON(ctx, OpTrainingJobs, http.MethodDelete, path, nil, nil, nil)
}

// DeleteTrainingJob removes a finished job and its logs.
func (c *Client) DeleteTrainingJob(ctx context.Context, jobID int) error {
	if err := checkID("training job", jobID); err != nil {
		return err
	}
	path := fmt.Sprintf("/api/training-jobs/%d/delete", jobID)
	return c.doJSON(ctx, OpTrainingJobs, http.MethodDelete, path, nil, nil, nil)
}

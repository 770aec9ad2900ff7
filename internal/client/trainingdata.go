package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
)

// ListTrainingData returns all example pairs of a bot.
func (c *Client) ListTrainingData(ctx context.Context, botID int) ([]TrainingData, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var data []TrainingData
	path := fmt.Sprintf("/api/bots/%d/training/", botID)
	if err := c.doJSON(ctx, OpTrainingData, http.MethodGet, path, nil, nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// AddTrainingData stores example pairs in bulk and returns how many were added.
func (c *Client) AddTrainingData(ctx context.Context, botID int, items []TrainingDataItem) (int, error) {
	if err := checkID("bot", botID); err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, errors.New("no training data to add")
	}

	body := struct {
		Data []TrainingDataItem `json:"data"`
	}{Data: items}

	var resp messageResponse
	path := fmt.Sprintf("/api/bots/%d/training/", botID)
	if err := c.doJSON(ctx, OpTrainingData, http.MethodPost, path, nil, body, &resp); err != nil {
		return 0, err
	}
	if resp.Count == 0 {
		return len(items), nil
	}
	return resp.Count, nil
}

// UploadTrainingFile sends a raw training file for server-side parsing.
// classify asks the service to assign intents it can infer.
func (c *Client) UploadTrainingFile(ctx context.Context, botID int, filename string, r io.Reader, classify bool) (int, error) {
	if err := checkID("bot", botID); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return 0, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return 0, fmt.Errorf("copy file: %w", err)
	}
	if err := w.WriteField("use_intelligent_classification", strconv.FormatBool(classify)); err != nil {
		return 0, fmt.Errorf("write field: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("close multipart: %w", err)
	}

	var resp messageResponse
	err = c.do(ctx, request{
		op:          OpTrainingData,
		method:      http.MethodPost,
		path:        fmt.Sprintf("/api/bots/%d/training/upload", botID),
		body:        &buf,
		contentType: w.FormDataContentType(),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// DeleteTrainingData removes one example pair.
func (c *Client) DeleteTrainingData(ctx context.Context, botID, dataID int) error {
	if err := checkID("bot", botID); err != nil {
		return err
	}
	if err := checkID("training data", dataID); err != nil {
		return err
	}
	path := fmt.Sprintf("/api/bots/%d/training/%d", botID, dataID)
	return c.doJSON(ctx, OpTrainingData, http.MethodDelete, path, nil, nil, nil)
}

// TrainingSessions returns records of the legacy synchronous training endpoint.
func (c *Client) TrainingSessions(ctx context.Context, botID int) ([]TrainingSession, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var sessions []TrainingSession
	path := fmt.Sprintf("/api/bots/%d/training/sessions", botID)
	if err := c.doJSON(ctx, OpTrainingData, http.MethodGet, path, nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

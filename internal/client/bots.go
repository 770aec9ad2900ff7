package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// =============================================================================
// BOT OPERATIONS
// =============================================================================

// ListBots returns all bots of the current user.
func (c *Client) ListBots(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	if err := c.doJSON(ctx, OpBots, http.MethodGet, "/api/bots/", nil, nil, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

// GetBot retrieves a bot by ID.
func (c *Client) GetBot(ctx context.Context, botID int) (*Bot, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var bot Bot
	if err := c.doJSON(ctx, OpBots, http.MethodGet, fmt.Sprintf("/api/bots/%d", botID), nil, nil, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// CreateBot creates a new bot.
func (c *Client) CreateBot(ctx context.Context, input BotInput) (*Bot, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("bot name is required")
	}
	var bot Bot
	if err := c.doJSON(ctx, OpBots, http.MethodPost, "/api/bots/", nil, input, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// UpdateBot updates an existing bot.
func (c *Client) UpdateBot(ctx context.Context, botID int, input BotUpdate) (*Bot, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var bot Bot
	if err := c.doJSON(ctx, OpBots, http.MethodPut, fmt.Sprintf("/api/bots/%d", botID), nil, input, &bot); err != nil {
		return nil, err
	}
	return &bot, nil
}

// DeleteBot deletes a bot with its training data, jobs and conversations.
func (c *Client) DeleteBot(ctx context.Context, botID int) error {
	if err := checkID("bot", botID); err != nil {
		return err
	}
	return c.doJSON(ctx, OpBots, http.MethodDelete, fmt.Sprintf("/api/bots/%d", botID), nil, nil, nil)
}

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ConversationHistory lists persisted conversations of a bot, newest first.
func (c *Client) ConversationHistory(ctx context.Context, botID, limit int) ([]ConversationSummary, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var summaries []ConversationSummary
	path := fmt.Sprintf("/api/conversations/bot/%d/history", botID)
	if err := c.doJSON(ctx, OpConversations, http.MethodGet, path, query, nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetConversation retrieves a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, conversationID int) (*Conversation, error) {
	if err := checkID("conversation", conversationID); err != nil {
		return nil, err
	}
	var conv Conversation
	path := fmt.Sprintf("/api/conversations/%d", conversationID)
	if err := c.doJSON(ctx, OpConversations, http.MethodGet, path, nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetConversationBySession retrieves the conversation persisted for a session id.
func (c *Client) GetConversationBySession(ctx context.Context, sessionID string) (*Conversation, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	var conv Conversation
	path := "/api/conversations/session/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, OpConversations, http.MethodGet, path, nil, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, conversationID int) error {
	if err := checkID("conversation", conversationID); err != nil {
		return err
	}
	path := fmt.Sprintf("/api/conversations/%d", conversationID)
	return c.doJSON(ctx, OpConversations, http.MethodDelete, path, nil, nil, nil)
}

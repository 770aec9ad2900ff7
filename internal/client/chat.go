package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// defaultSenderID is sent when no session is active.
const defaultSenderID = "user"

// SendChat sends one user turn to a bot and returns its reply.
func (c *Client) SendChat(ctx context.Context, botID int, req ChatRequest) (*ChatReply, error) {
	if err := checkID("bot", botID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}

	sender := req.SessionID
	if sender == "" {
		sender = defaultSenderID
	}
	body := struct {
		Message  string `json:"message"`
		SenderID string `json:"sender_id"`
		IsSave   bool   `json:"isSave"`
	}{Message: req.Message, SenderID: sender, IsSave: req.Save}

	var query url.Values
	if req.SessionID != "" {
		query = url.Values{"session_id": {req.SessionID}}
	}

	var reply ChatReply
	path := fmt.Sprintf("/api/bots/%d/chat", botID)
	if err := c.doJSON(ctx, OpChat, http.MethodPost, path, query, body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Package discord talks to the Discord REST API and serves the slash
// command interactions endpoint.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/set-night/progressmate/internal/config"
	"github.com/set-night/progressmate/internal/domain"
	"github.com/set-night/progressmate/internal/service"
)

const DefaultAPIBase = "https://discord.com/api/v10"

const (
	channelTypePublicThread  = 11
	channelTypePrivateThread = 12
)

// Client is a minimal bot-token REST client. It implements service.Delivery.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBase
	}
	return &Client{
		token:      token,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: config.DeliveryTimeout},
	}
}

type allowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

type createMessageRequest struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"timestamp"`
}

// CreateMessage posts msg to a channel or thread. Only the user named by
// MentionUserID can be pinged.
func (c *Client) CreateMessage(ctx context.Context, msg service.OutgoingMessage) (*service.DeliveredMessage, error) {
	req := createMessageRequest{
		Content:         msg.Content,
		AllowedMentions: allowedMentions{Parse: []string{}},
	}
	if msg.MentionUserID != "" {
		req.Content = fmt.Sprintf("<@%s> \n%s", msg.MentionUserID, msg.Content)
		req.AllowedMentions.Users = []string{msg.MentionUserID}
	}

	var resp messageResponse
	if err := c.do(ctx, "create message", http.MethodPost, "/channels/"+msg.Target+"/messages", req, &resp); err != nil {
		return nil, err
	}
	return &service.DeliveredMessage{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

type createThreadRequest struct {
	Name                string `json:"name"`
	AutoArchiveDuration int    `json:"auto_archive_duration,omitempty"`
	Type                int    `json:"type"`
}

// CreateThread opens a thread without a starter message under params.Parent.
func (c *Client) CreateThread(ctx context.Context, params service.ThreadParams) (string, error) {
	req := createThreadRequest{
		Name:                params.Name,
		AutoArchiveDuration: params.AutoArchiveMinutes,
		Type:                channelTypePublicThread,
	}
	if params.Private {
		req.Type = channelTypePrivateThread
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "create thread", http.MethodPost, "/channels/"+params.Parent+"/threads", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.DeliveryError{Op: op, Status: resp.StatusCode, Body: decodeErrorBody(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}

// decodeErrorBody returns the JSON payload when it parses, otherwise the raw text.
func decodeErrorBody(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return v
	}
	return string(data)
}

// Package client talks to the conversation routes of a FastGPT server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/yezidelongshao/fastGPTProject/internal/chat"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
)

const chatPrefix = "/api/core/chat"

var _ chat.Persistence = (*Client)(nil)

// Client is the HTTP implementation of the chat record store
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client. A zero timeout defaults to 30 seconds.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// InitChat fetches the app info, title and messages of a conversation
func (c *Client) InitChat(ctx context.Context, appID, chatID string) (*domain.InitChatResponse, error) {
	var resp domain.InitChatResponse
	q := url.Values{"app_id": {appID}}
	if chatID != "" {
		q.Set("chat_id", chatID)
	}
	if err := c.do(ctx, http.MethodGet, "/init", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListHistories lists the conversations of an app
func (c *Client) ListHistories(ctx context.Context, appID string) ([]domain.HistorySummary, error) {
	var resp struct {
		Histories []domain.HistorySummary `json:"histories"`
	}
	if err := c.do(ctx, http.MethodGet, "/histories", url.Values{"app_id": {appID}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Histories, nil
}

// UpdateHistory changes the title, custom title or pin state of a conversation
func (c *Client) UpdateHistory(ctx context.Context, req *domain.UpdateHistoryRequest) error {
	return c.do(ctx, http.MethodPut, "/history", nil, req, nil)
}

// DeleteHistory deletes one conversation
func (c *Client) DeleteHistory(ctx context.Context, appID, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/history", url.Values{"app_id": {appID}, "chat_id": {chatID}}, nil, nil)
}

// ClearHistories deletes every conversation of an app
func (c *Client) ClearHistories(ctx context.Context, appID string) error {
	return c.do(ctx, http.MethodDelete, "/histories", url.Values{"app_id": {appID}}, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + chatPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}

// statusError turns an error response into an error matching the domain
// sentinel of its status.
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusForbidden:
		sentinel = domain.ErrForbidden
	case http.StatusUnauthorized:
		sentinel = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		sentinel = domain.ErrRateLimited
	case http.StatusBadRequest:
		sentinel = domain.ErrInvalidRequest
	default:
		return errors.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return errors.Wrapf(sentinel, "server returned %d: %s", resp.StatusCode, msg)
}

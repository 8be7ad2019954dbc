// Package api is the REST client for the call-history resource layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voxlink/voxlink/internal/domain"
)

// Client talks to the backend's /api/calls resources with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Calls lists every call of the authenticated user.
func (c *Client) Calls(ctx context.Context) ([]domain.Call, error) {
	var out []domain.Call
	err := c.do(ctx, http.MethodGet, "/api/calls", nil, &out)
	return out, err
}

// CompletedCalls lists the call history.
func (c *Client) CompletedCalls(ctx context.Context) ([]domain.Call, error) {
	var out []domain.Call
	err := c.do(ctx, http.MethodGet, "/api/calls/completed", nil, &out)
	return out, err
}

// ActiveCalls lists calls still in progress.
func (c *Client) ActiveCalls(ctx context.Context) ([]domain.Call, error) {
	var out []domain.Call
	err := c.do(ctx, http.MethodGet, "/api/calls/active", nil, &out)
	return out, err
}

func (c *Client) Call(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var out domain.Call
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/calls/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) EndCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var out domain.Call
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/calls/%d/end", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelCall(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var out domain.Call
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/calls/%d/cancel", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"scribed/internal/queue"
)

// Client talks to a running scribed daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// NewClient builds an API client for the daemon bound at baseURL. The token
// may be empty when the daemon does not require authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// NewClientForBind builds a client from a config bind address like
// "127.0.0.1:7537".
func NewClientForBind(bind, token string) *Client {
	return NewClient("http://"+bind, token)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (*DaemonStatus, error) {
	var status DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListQueue returns tasks, optionally filtered by status.
func (c *Client) ListQueue(ctx context.Context, statuses ...queue.Status) ([]Task, error) {
	path := "/api/queue"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", string(status))
		}
		path += "?" + values.Encode()
	}
	var resp QueueListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// GetTask returns one queue entry by id.
func (c *Client) GetTask(ctx context.Context, id int64) (*Task, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/queue/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// RemoveTask deletes one queue entry by id.
func (c *Client) RemoveTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/queue/%d", id), nil, nil)
}

// RetryTask returns a failed task to pending.
func (c *Client) RetryTask(ctx context.Context, id int64) (int64, error) {
	var resp RetryResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/queue/%d/retry", id), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Retried, nil
}

// RetryAllFailed returns every failed task to pending.
func (c *Client) RetryAllFailed(ctx context.Context) (int64, error) {
	var resp RetryResponse
	if err := c.do(ctx, http.MethodPost, "/api/queue/retry", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Retried, nil
}

// ClearQueue removes tasks by scope: "completed", "failed", or "all".
func (c *Client) ClearQueue(ctx context.Context, scope string) (int64, error) {
	var resp ClearResponse
	path := "/api/queue/clear"
	if scope != "" {
		path += "?scope=" + url.QueryEscape(scope)
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// GetTranscript returns the transcript for a video.
func (c *Client) GetTranscript(ctx context.Context, videoID string) (*Transcript, error) {
	var resp TranscriptResponse
	path := "/api/transcripts/" + url.PathEscape(videoID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Transcript, nil
}

// ListChannels returns all channel subscriptions.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var resp ChannelListResponse
	if err := c.do(ctx, http.MethodGet, "/api/channels", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// AddChannel subscribes a channel for discovery.
func (c *Client) AddChannel(ctx context.Context, req AddChannelRequest) (*Channel, error) {
	var resp ChannelResponse
	if err := c.do(ctx, http.MethodPost, "/api/channels", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// RemoveChannel deletes a channel subscription.
func (c *Client) RemoveChannel(ctx context.Context, channelID string) error {
	path := "/api/channels/" + url.PathEscape(channelID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// SetChannelActive pauses or resumes a channel subscription.
func (c *Client) SetChannelActive(ctx context.Context, channelID string, active bool) (*Channel, error) {
	var resp ChannelResponse
	path := "/api/channels/" + url.PathEscape(channelID) + "/active"
	if err := c.do(ctx, http.MethodPost, path, SetChannelActiveRequest{Active: active}, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// Process admits one video by URL for transcription.
func (c *Client) Process(ctx context.Context, videoURL string, force bool) (*Task, error) {
	var resp TaskResponse
	if err := c.do(ctx, http.MethodPost, "/api/process", ProcessRequest{URL: videoURL, Force: force}, &resp); err != nil {
		return nil, err
	}
	return &resp.Task, nil
}

// Cleanup triggers a storage sweep.
func (c *Client) Cleanup(ctx context.Context, force bool) (*CleanupResponse, error) {
	var resp CleanupResponse
	if err := c.do(ctx, http.MethodPost, "/api/cleanup", CleanupRequest{Force: force}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunOnce triggers a single discovery plus queue drain pass.
func (c *Client) RunOnce(ctx context.Context) (*RunOnceResponse, error) {
	var resp RunOnceResponse
	if err := c.do(ctx, http.MethodPost, "/api/run-once", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

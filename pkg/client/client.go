// Package client is the CLI-facing HTTP client for the fleetctl
// control surface. Every subcommand talks to a running daemon through
// this client rather than touching the store directly, so the daemon
// stays the single writer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/fleetctl/pkg/api"
	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/types"
)

// Client talks to a fleetctl daemon's control surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against addr ("host:port").
func New(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apierr.Wrap(apierr.Transport, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.Transport, "daemon unreachable", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		OK    bool            `json:"ok"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
		Kind  string          `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apierr.Wrap(apierr.Transport, "decode response", err)
	}
	if !envelope.OK {
		kind := apierr.Kind(envelope.Kind)
		if kind == "" {
			kind = apierr.Transport
		}
		return apierr.New(kind, envelope.Error)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return apierr.Wrap(apierr.Transport, "decode payload", err)
		}
	}
	return nil
}

// SubmitPrompt submits a new prompt and returns the created record.
func (c *Client) SubmitPrompt(ctx context.Context, req api.SubmitPromptRequest) (*types.Prompt, error) {
	var prompt types.Prompt
	if err := c.do(ctx, http.MethodPost, "/api/v1/prompts", req, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// ListPrompts lists prompts, optionally filtered by status.
func (c *Client) ListPrompts(ctx context.Context, status string) ([]*types.Prompt, error) {
	path := "/api/v1/prompts"
	if status != "" {
		path += "?status=" + status
	}
	var prompts []*types.Prompt
	if err := c.do(ctx, http.MethodGet, path, nil, &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// GetPrompt fetches one prompt by id.
func (c *Client) GetPrompt(ctx context.Context, id int64) (*types.Prompt, error) {
	var prompt types.Prompt
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/prompts/%d", id), nil, &prompt); err != nil {
		return nil, err
	}
	return &prompt, nil
}

// RetryPrompt requests a retry; returns whether the prompt was eligible.
func (c *Client) RetryPrompt(ctx context.Context, id int64) (bool, error) {
	var out struct {
		Retried bool `json:"retried"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/prompts/%d/retry", id), nil, &out); err != nil {
		return false, err
	}
	return out.Retried, nil
}

// RetryAllFailed retries every eligible failed prompt.
func (c *Client) RetryAllFailed(ctx context.Context) (int, error) {
	var out struct {
		Retried int `json:"retried"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/prompts/retry-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Retried, nil
}

// ReassignPrompt points a prompt at a new target session.
func (c *Client) ReassignPrompt(ctx context.Context, id int64, targetSession string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/prompts/%d/reassign", id),
		api.ReassignRequest{TargetSession: targetSession}, nil)
}

// ListSessions lists every registered session.
func (c *Client) ListSessions(ctx context.Context) ([]*types.Session, error) {
	var sessions []*types.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// SupervisorStatus lists every declared service with runtime state.
func (c *Client) SupervisorStatus(ctx context.Context) ([]*types.ManagedService, error) {
	var services []*types.ManagedService
	if err := c.do(ctx, http.MethodGet, "/api/v1/services", nil, &services); err != nil {
		return nil, err
	}
	return services, nil
}

// StartService starts a declared service.
func (c *Client) StartService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/services/"+id+"/start", nil, nil)
}

// StopService gracefully stops a service.
func (c *Client) StopService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/services/"+id+"/stop", nil, nil)
}

// RestartService resets attempt counters and starts the service fresh.
func (c *Client) RestartService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/services/"+id+"/restart", nil, nil)
}

// ClusterStatus returns the daemon's local cluster view.
func (c *Client) ClusterStatus(ctx context.Context) (*api.ClusterStatus, error) {
	var status api.ClusterStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ReloadConfig asks the daemon to re-read its configuration file.
func (c *Client) ReloadConfig(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/config/reload", nil, nil)
}

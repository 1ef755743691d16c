package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sarth-shah20/keel/internal/supervisor"
	"github.com/sarth-shah20/keel/internal/topology"
)

// Error is a non-2xx answer from the control API. It unwraps to the matching
// topology sentinel so callers can use errors.Is across the wire.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return topology.ErrUnknownService
	case http.StatusConflict:
		return topology.ErrInvalidTransition
	case http.StatusBadRequest:
		return topology.ErrInvalidConfig
	default:
		return nil
	}
}

// Client talks to a running supervisor.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts a host:port or a full base URL.
func NewClient(addr string) *Client {
	base := addr
	if u, err := url.Parse(addr); err != nil || u.Scheme == "" || u.Host == "" {
		base = "http://" + addr
	}
	return &Client{base: base, http: &http.Client{Timeout: 3 * time.Minute}}
}

// Ping reports whether a supervisor answers. It uses a short timeout so the
// CLI can fall back quickly.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/healthz", nil)
}

func (c *Client) Services(ctx context.Context) ([]supervisor.ServiceStatus, error) {
	var out []supervisor.ServiceStatus
	err := c.do(ctx, http.MethodGet, "/v1/services", &out)
	return out, err
}

func (c *Client) Service(ctx context.Context, name string) (supervisor.ServiceStatus, error) {
	var out supervisor.ServiceStatus
	err := c.do(ctx, http.MethodGet, "/v1/services/"+url.PathEscape(name), &out)
	return out, err
}

func (c *Client) Start(ctx context.Context, name string) (supervisor.ServiceStatus, error) {
	return c.act(ctx, name, "start")
}

func (c *Client) Stop(ctx context.Context, name string) (supervisor.ServiceStatus, error) {
	return c.act(ctx, name, "stop")
}

func (c *Client) Restart(ctx context.Context, name string) (supervisor.ServiceStatus, error) {
	return c.act(ctx, name, "restart")
}

func (c *Client) act(ctx context.Context, name, verb string) (supervisor.ServiceStatus, error) {
	var out supervisor.ServiceStatus
	err := c.do(ctx, http.MethodPost, "/v1/services/"+url.PathEscape(name)+"/"+verb, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	env := envelope{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	return nil
}

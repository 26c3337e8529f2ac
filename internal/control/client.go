package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Rajchodisetti/autotrader/internal/engine"
	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/risk"
)

var ErrNotFound = errors.New("not found")

// Client talks to a running engine's control API.
type Client struct {
	http   *resty.Client
	signer *Signer
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetTimeout(timeout)
	c.SetHeader("Accept", "application/json")
	cl := &Client{http: c}
	if secret != "" {
		cl.signer = NewSigner(secret)
	}
	return cl
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = b
	}
	var apiErr apiError
	req := c.http.R().SetContext(ctx).SetError(&apiErr)
	if raw != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(raw)
	}
	if c.signer != nil {
		c.signer.Sign(req.Header, method, path, raw)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("control %s %s: %w", method, path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Error)
	case resp.IsError():
		return fmt.Errorf("control %s %s: status %d: %s", method, path, resp.StatusCode(), apiErr.Error)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, resty.MethodGet, "/v1/status", nil, &s)
	return s, err
}

func (c *Client) Positions(ctx context.Context) ([]lifecycle.Position, error) {
	var ps []lifecycle.Position
	err := c.do(ctx, resty.MethodGet, "/v1/positions", nil, &ps)
	return ps, err
}

func (c *Client) Snapshot(ctx context.Context, symbol string) (lifecycle.Position, error) {
	var p lifecycle.Position
	err := c.do(ctx, resty.MethodGet, "/v1/positions/"+symbol, nil, &p)
	return p, err
}

func (c *Client) Pause(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, resty.MethodPost, "/v1/pause", nil, &s)
	return s, err
}

func (c *Client) Resume(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, resty.MethodPost, "/v1/resume", nil, &s)
	return s, err
}

func (c *Client) ResetDay(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, resty.MethodPost, "/v1/reset-day", nil, &s)
	return s, err
}

func (c *Client) SetLimits(ctx context.Context, l risk.Limits) (Status, error) {
	var s Status
	err := c.do(ctx, resty.MethodPut, "/v1/limits", l, &s)
	return s, err
}

func (c *Client) EmergencyStop(ctx context.Context) ([]engine.ExitDecision, error) {
	var out []engine.ExitDecision
	err := c.do(ctx, resty.MethodPost, "/v1/emergency-stop", nil, &out)
	return out, err
}

func (c *Client) Scan(ctx context.Context) ([]engine.EntryDecision, error) {
	var out []engine.EntryDecision
	err := c.do(ctx, resty.MethodPost, "/v1/scan", nil, &out)
	return out, err
}

func (c *Client) Monitor(ctx context.Context) ([]engine.ExitDecision, error) {
	var out []engine.ExitDecision
	err := c.do(ctx, resty.MethodPost, "/v1/monitor", nil, &out)
	return out, err
}

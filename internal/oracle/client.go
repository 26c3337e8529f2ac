package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/autotrader/internal/cache"
	"github.com/Rajchodisetti/autotrader/internal/observ"
)

type Config struct {
	Endpoint           string
	APIKey             string
	Model              string
	Temperature        float64
	Timeout            time.Duration
	RateLimitPerMinute int
	CacheTTL           time.Duration
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	http    *resty.Client
	cfg     Config
	limiter *rate.Limiter
	cache   cache.Cache
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewClient builds a client. c may be nil to disable verdict caching.
func NewClient(cfg Config, c cache.Cache) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	rpm := cfg.RateLimitPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	httpc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpc.SetAuthToken(cfg.APIKey)
	}
	return &Client{
		http:    httpc,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		cache:   c,
	}
}

func (c *Client) Analyze(ctx context.Context, req Request) (Verdict, error) {
	start := time.Now()
	labels := map[string]string{"mode": string(req.Mode)}
	defer func() { observ.RecordDuration("oracle_request", time.Since(start), labels) }()

	// exit questions depend on the live mark and are never cached
	var key string
	if c.cache != nil && req.Mode != ModeExit {
		key = cache.Key("oracle", req.Symbol, req)
		var v Verdict
		if err := c.cache.Get(ctx, key, &v); err == nil {
			observ.IncCounter("oracle_cache_hits_total", labels)
			return v, nil
		} else if !errors.Is(err, cache.ErrMiss) {
			observ.Log("oracle_cache_error", map[string]any{"symbol": req.Symbol, "error": err})
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Verdict{}, fmt.Errorf("oracle rate limit: %w", err)
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.cfg.Model,
			Messages:    BuildMessages(req),
			Temperature: c.cfg.Temperature,
			MaxTokens:   400,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		observ.IncCounter("oracle_errors_total", map[string]string{"mode": string(req.Mode), "kind": "network"})
		return Verdict{}, fmt.Errorf("oracle request: %w", err)
	}
	if resp.IsError() {
		observ.IncCounter("oracle_errors_total", map[string]string{"mode": string(req.Mode), "kind": "status"})
		return Verdict{}, fmt.Errorf("oracle status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(out.Choices) == 0 {
		observ.IncCounter("oracle_errors_total", map[string]string{"mode": string(req.Mode), "kind": "empty"})
		return Verdict{}, fmt.Errorf("%w: no choices", ErrMalformed)
	}

	v, err := ParseVerdict(out.Choices[0].Message.Content)
	if err != nil {
		observ.IncCounter("oracle_errors_total", map[string]string{"mode": string(req.Mode), "kind": "malformed"})
		return Verdict{}, err
	}
	observ.IncCounter("oracle_verdicts_total", map[string]string{"mode": string(req.Mode), "recommendation": string(v.Recommendation)})

	if key != "" {
		if err := c.cache.Set(ctx, key, v, c.cfg.CacheTTL); err != nil {
			observ.Log("oracle_cache_error", map[string]any{"symbol": req.Symbol, "error": err})
		}
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

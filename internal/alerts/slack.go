package alerts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/autotrader/internal/observ"
)

type SlackConfig struct {
	WebhookURL       string
	Channel          string
	TradingMode      string
	RatePerMin       int
	RatePerKeyPerMin int
	DedupeWindow     time.Duration
	QueueSize        int
	MaxAttempts      int
	Timeout          time.Duration
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Fields []slackField `json:"fields"`
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type queued struct {
	alert     Alert
	attempts  int
	nextRetry time.Time
}

// Slack posts alerts to an incoming webhook from a single worker. Send never
// blocks: duplicates inside the dedupe window and alerts over the rate limits
// are dropped, and a full queue sheds its oldest non-critical entry.
type Slack struct {
	cfg    SlackConfig
	client *resty.Client
	queue  chan queued
	global *rate.Limiter

	mu     sync.Mutex
	perKey map[string]*rate.Limiter
	seen   map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 20
	}
	if cfg.RatePerKeyPerMin <= 0 {
		cfg.RatePerKeyPerMin = 6
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Slack{
		cfg:    cfg,
		client: resty.New().SetTimeout(cfg.Timeout),
		queue:  make(chan queued, cfg.QueueSize),
		global: rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60), cfg.RatePerMin),
		perKey: make(map[string]*rate.Limiter),
		seen:   make(map[string]time.Time),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *Slack) Send(a Alert) {
	if a.At.IsZero() {
		a.At = time.Now()
	}
	if s.duplicate(a) {
		observ.IncCounter("alerts_dropped_total", map[string]string{"reason": "duplicate"})
		return
	}
	if a.Severity != Critical && !s.allow(a.Key) {
		observ.IncCounter("alerts_dropped_total", map[string]string{"reason": "rate_limited"})
		return
	}
	s.enqueue(queued{alert: a, nextRetry: a.At})
}

func hashAlert(a Alert) string {
	var b strings.Builder
	b.WriteString(a.Key + "|" + a.Title)
	for _, f := range a.Fields {
		b.WriteString("|" + f.Title + "=" + f.Value)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func (s *Slack) duplicate(a Alert) bool {
	h := hashAlert(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.seen {
		if a.At.Sub(at) > s.cfg.DedupeWindow {
			delete(s.seen, k)
		}
	}
	if at, ok := s.seen[h]; ok && a.At.Sub(at) < s.cfg.DedupeWindow {
		return true
	}
	s.seen[h] = a.At
	return false
}

func (s *Slack) allow(key string) bool {
	s.mu.Lock()
	lim, ok := s.perKey[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(s.cfg.RatePerKeyPerMin)/60), s.cfg.RatePerKeyPerMin)
		s.perKey[key] = lim
	}
	s.mu.Unlock()
	return lim.Allow() && s.global.Allow()
}

func (s *Slack) enqueue(q queued) {
	select {
	case s.queue <- q:
		observ.SetGauge("alert_queue_depth", float64(len(s.queue)), nil)
		return
	default:
	}
	// full: make room unless the oldest entry is critical
	select {
	case old := <-s.queue:
		if old.alert.Severity == Critical && q.alert.Severity != Critical {
			q = old
		}
	default:
	}
	select {
	case s.queue <- q:
	default:
	}
	observ.IncCounter("alerts_dropped_total", map[string]string{"reason": "queue_full"})
}

func (s *Slack) worker() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case q := <-s.queue:
			observ.SetGauge("alert_queue_depth", float64(len(s.queue)), nil)
			if wait := time.Until(q.nextRetry); wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.ctx.Done():
					return
				}
			}
			err := s.post(q.alert)
			if err == nil {
				observ.IncCounter("alerts_sent_total", map[string]string{"severity": string(q.alert.Severity)})
				continue
			}
			q.attempts++
			if q.attempts >= s.cfg.MaxAttempts {
				observ.IncCounter("alert_webhook_errors_total", nil)
				observ.Log("alert_dropped", map[string]any{"title": q.alert.Title, "attempts": q.attempts, "error": err})
				continue
			}
			backoff := time.Duration(math.Pow(2, float64(q.attempts))) * time.Second
			q.nextRetry = time.Now().Add(backoff + time.Duration(rand.Float64()*float64(backoff)*0.1))
			s.enqueue(q)
		}
	}
}

func (s *Slack) post(a Alert) error {
	resp, err := s.client.R().
		SetContext(s.ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(s.format(a)).
		Post(s.cfg.WebhookURL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode())
	}
	return nil
}

func (s *Slack) format(a Alert) slackMessage {
	color := "good"
	switch a.Severity {
	case Warning:
		color = "warning"
	case Critical:
		color = "danger"
	}
	fields := make([]slackField, 0, len(a.Fields)+2)
	for _, f := range a.Fields {
		fields = append(fields, slackField{Title: f.Title, Value: f.Value, Short: len(f.Value) < 40})
	}
	fields = append(fields, slackField{Title: "Time", Value: a.At.Format("15:04:05 MST"), Short: true})
	if s.cfg.TradingMode != "" && s.cfg.TradingMode != "paper" {
		fields = append(fields, slackField{Title: "Mode", Value: s.cfg.TradingMode, Short: true})
	}
	return slackMessage{
		Channel:     s.cfg.Channel,
		Text:        a.Title,
		Attachments: []slackAttachment{{Color: color, Fields: fields}},
	}
}

// Close stops the worker. Alerts still queued are dropped.
func (s *Slack) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Package outbox is the append-only JSONL audit trail of every order and fill.
package outbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Order struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	PositionID     string    `json:"position_id,omitempty"`
	Symbol         string    `json:"symbol"`
	Asset          string    `json:"asset"`
	Side           string    `json:"side"`
	Quantity       int       `json:"quantity"`
	Intent         string    `json:"intent"` // OPEN | CLOSE
	LimitPrice     float64   `json:"limit_price,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	IdempotencyKey string    `json:"idempotency_key"`
}

type Fill struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	Side        string    `json:"side"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMs   int       `json:"latency_ms"`
	SlippageBps int       `json:"slippage_bps"`
}

type Entry struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

type Outbox struct {
	mu           sync.Mutex
	path         string
	dedupeWindow time.Duration
	now          func() time.Time
}

func New(path string, dedupeWindowSecs int) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Outbox{
		path:         path,
		dedupeWindow: time.Duration(dedupeWindowSecs) * time.Second,
		now:          time.Now,
	}, nil
}

func (o *Outbox) Path() string { return o.path }

func (o *Outbox) WriteOrder(order Order) error {
	return o.append("order", order)
}

func (o *Outbox) WriteFill(fill Fill) error {
	return o.append("fill", fill)
}

func (o *Outbox) append(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line, err := json.Marshal(Entry{Type: kind, Data: data, Event: o.now().UTC()})
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// HasRecentOrder reports whether an order with the key was written inside the dedupe window.
func (o *Outbox) HasRecentOrder(idempotencyKey string) (bool, error) {
	found := false
	cutoff := o.now().UTC().Add(-o.dedupeWindow)
	err := o.scan(func(e Entry) bool {
		if e.Type != "order" || e.Event.Before(cutoff) {
			return true
		}
		var order Order
		if err := json.Unmarshal(e.Data, &order); err != nil {
			return true
		}
		if order.IdempotencyKey == idempotencyKey {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Orders returns every order entry, oldest first.
func (o *Outbox) Orders() ([]Order, error) {
	var out []Order
	err := o.scan(func(e Entry) bool {
		if e.Type == "order" {
			var order Order
			if json.Unmarshal(e.Data, &order) == nil {
				out = append(out, order)
			}
		}
		return true
	})
	return out, err
}

// Fills returns every fill entry, oldest first.
func (o *Outbox) Fills() ([]Fill, error) {
	var out []Fill
	err := o.scan(func(e Entry) bool {
		if e.Type == "fill" {
			var fill Fill
			if json.Unmarshal(e.Data, &fill) == nil {
				out = append(out, fill)
			}
		}
		return true
	})
	return out, err
}

func (o *Outbox) scan(fn func(Entry) bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	f, err := os.Open(o.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if !fn(e) {
			break
		}
	}
	return sc.Err()
}

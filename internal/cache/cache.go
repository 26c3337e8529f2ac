// Package cache holds short-lived analysis results (sentiment readings, oracle verdicts).
package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache stores JSON-encodable values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Memory is an in-process Cache used when no redis address is configured.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string, dest any) error {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(e.data, dest)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = memEntry{data: b, expiresAt: exp}
	m.mu.Unlock()
	return nil
}

// Key builds a namespaced key; parts are hashed so arbitrary payloads stay short.
func Key(namespace, symbol string, payload any) string {
	if payload == nil {
		return fmt.Sprintf("autotrader:%s:%s", namespace, symbol)
	}
	b, _ := json.Marshal(payload)
	sum := md5.Sum(b)
	return fmt.Sprintf("autotrader:%s:%s:%x", namespace, symbol, sum[:8])
}

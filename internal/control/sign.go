package control

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderTimestamp = "X-Autotrader-Timestamp"
	HeaderSignature = "X-Autotrader-Signature"
	HeaderNonce     = "X-Autotrader-Nonce"

	maxSkew = 5 * time.Minute
)

var (
	ErrStale        = errors.New("request timestamp outside allowed skew")
	ErrReplay       = errors.New("request signature already used")
	ErrBadSignature = errors.New("request signature mismatch")
)

// Signer produces and checks v0 request signatures:
// hex(HMAC-SHA256(secret, "v0:" + ts + ":" + nonce + ":" + method + " " + path + ":" + body)).
type Signer struct {
	secret []byte
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now, seen: make(map[string]time.Time)}
}

func (s *Signer) mac(ts, nonce, method, path string, body []byte) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte("v0:" + ts + ":" + nonce + ":" + method + " " + path + ":"))
	m.Write(body)
	return "v0=" + hex.EncodeToString(m.Sum(nil))
}

// Sign sets the timestamp, nonce and signature headers for one request.
func (s *Signer) Sign(h http.Header, method, path string, body []byte) {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	nonce := uuid.NewString()
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderNonce, nonce)
	h.Set(HeaderSignature, s.mac(ts, nonce, method, path, body))
}

// Verify checks skew, replay and the HMAC. A signature is accepted once.
func (s *Signer) Verify(h http.Header, method, path string, body []byte) error {
	ts, sig := h.Get(HeaderTimestamp), h.Get(HeaderSignature)
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStale
	}
	now := s.now()
	if d := now.Sub(time.Unix(unix, 0)); d > maxSkew || d < -maxSkew {
		return ErrStale
	}
	if !hmac.Equal([]byte(s.mac(ts, h.Get(HeaderNonce), method, path, body)), []byte(sig)) {
		return ErrBadSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.seen {
		if now.Sub(at) > 2*maxSkew {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[sig]; ok {
		return ErrReplay
	}
	s.seen[sig] = now
	return nil
}

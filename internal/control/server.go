// Package control serves the operator API of a running engine and the client
// the CLI uses to reach it.
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Rajchodisetti/autotrader/internal/engine"
	"github.com/Rajchodisetti/autotrader/internal/lifecycle"
	"github.com/Rajchodisetti/autotrader/internal/observ"
	"github.com/Rajchodisetti/autotrader/internal/risk"
)

// Operator is the slice of the engine the API exposes.
type Operator interface {
	ScanAndDecide(ctx context.Context) []engine.EntryDecision
	MonitorAndExit(ctx context.Context) []engine.ExitDecision
	EmergencyStop(ctx context.Context) []engine.ExitDecision
	PositionSnapshot(symbol string) (*lifecycle.Position, bool)
	Positions() []lifecycle.Position
	Risk() risk.Snapshot
	SetLimits(risk.Limits) error
	Pause()
	Resume()
	Paused() bool
	ResetDay()
}

type Status struct {
	Paused bool          `json:"paused"`
	Risk   risk.Snapshot `json:"risk"`
}

type apiError struct {
	Error string `json:"error"`
}

const maxBody = 1 << 20

type Server struct {
	op     Operator
	signer *Signer
	mux    *http.ServeMux
}

// NewServer wires the routes. With an empty secret the read endpoints are open
// and every mutating endpoint answers 403.
func NewServer(op Operator, secret string) *Server {
	s := &Server{op: op, mux: http.NewServeMux()}
	if secret != "" {
		s.signer = NewSigner(secret)
	}

	s.mux.Handle("GET /metrics", observ.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("GET /v1/status", s.read(s.status))
	s.mux.HandleFunc("GET /v1/positions", s.read(s.positions))
	s.mux.HandleFunc("GET /v1/positions/{symbol}", s.read(s.position))

	s.mux.HandleFunc("POST /v1/pause", s.write("pause", func(w http.ResponseWriter, r *http.Request, _ []byte) {
		s.op.Pause()
		s.status(w, r)
	}))
	s.mux.HandleFunc("POST /v1/resume", s.write("resume", func(w http.ResponseWriter, r *http.Request, _ []byte) {
		s.op.Resume()
		s.status(w, r)
	}))
	s.mux.HandleFunc("POST /v1/reset-day", s.write("reset_day", func(w http.ResponseWriter, r *http.Request, _ []byte) {
		s.op.ResetDay()
		s.status(w, r)
	}))
	s.mux.HandleFunc("POST /v1/emergency-stop", s.write("emergency_stop", func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, s.op.EmergencyStop(context.WithoutCancel(r.Context())))
	}))
	s.mux.HandleFunc("POST /v1/scan", s.write("scan", func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, s.op.ScanAndDecide(r.Context()))
	}))
	s.mux.HandleFunc("POST /v1/monitor", s.write("monitor", func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, s.op.MonitorAndExit(r.Context()))
	}))
	s.mux.HandleFunc("PUT /v1/limits", s.write("set_limits", s.setLimits))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Status{Paused: s.op.Paused(), Risk: s.op.Risk()})
}

func (s *Server) positions(w http.ResponseWriter, _ *http.Request) {
	ps := s.op.Positions()
	if ps == nil {
		ps = []lifecycle.Position{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	sym := strings.ToUpper(r.PathValue("symbol"))
	p, ok := s.op.PositionSnapshot(sym)
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no live position in " + sym})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) setLimits(w http.ResponseWriter, r *http.Request, body []byte) {
	var l risk.Limits
	if err := json.Unmarshal(body, &l); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	if err := s.op.SetLimits(l); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: err.Error()})
		return
	}
	s.status(w, r)
}

func (s *Server) read(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.signer != nil {
			if _, ok := s.authenticate(w, r, "read"); !ok {
				return
			}
		}
		h(w, r)
	}
}

func (s *Server) write(command string, h func(http.ResponseWriter, *http.Request, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.signer == nil {
			observ.IncCounter("control_commands_total", map[string]string{"command": command, "result": "disabled"})
			writeJSON(w, http.StatusForbidden, apiError{Error: "control secret not configured"})
			return
		}
		body, ok := s.authenticate(w, r, command)
		if !ok {
			return
		}
		observ.IncCounter("control_commands_total", map[string]string{"command": command, "result": "accepted"})
		observ.Log("control_command", map[string]any{"command": command, "remote": r.RemoteAddr})
		h(w, r, body)
	}
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, command string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	err = s.signer.Verify(r.Header, r.Method, r.URL.Path, body)
	if err != nil {
		observ.IncCounter("control_commands_total", map[string]string{"command": command, "result": "unauthorized"})
		observ.Log("control_rejected", map[string]any{"command": command, "remote": r.RemoteAddr, "error": err})
		status := http.StatusUnauthorized
		if errors.Is(err, ErrReplay) {
			status = http.StatusConflict
		}
		writeJSON(w, status, apiError{Error: err.Error()})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

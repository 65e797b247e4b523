// Package kerneltest provides an in-process fake Jupyter server for tests. It
// serves /api, /api/sessions and the kernel websocket channel, and replies to
// execute requests with frames produced by a per-kernel Script.
package kerneltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tansive/kernelexec/internal/kernel/protocol"
)

// Frame is one message the fake kernel sends, after Delay.
type Frame struct {
	Data  []byte
	Delay time.Duration
}

// Request is an execute_request received by the fake kernel.
type Request struct {
	KernelID string
	MsgID    string
	Code     string
}

// Script produces the reply frames for one request.
type Script func(req Request) []Frame

// Session is a session reported by /api/sessions.
type Session struct {
	KernelID string
	Path     string
	Name     string
}

// Server is a fake Jupyter server.
type Server struct {
	*httptest.Server
	Token string

	mu       sync.Mutex
	sessions []Session
	scripts  map[string]Script
	requests []Request
	version  string
}

// NewServer starts a server requiring token (empty disables auth). It is
// closed when the test ends.
func NewServer(t testing.TB, token string) *Server {
	t.Helper()
	s := &Server{
		Token:   token,
		scripts: map[string]Script{},
		version: "2.14.0",
	}
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.getAPI)
		r.Get("/sessions", s.getSessions)
		r.Get("/kernels/{kernelID}/channels", s.channels)
	})
	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// AddKernel registers a session bound to a kernel answering with script.
func (s *Server) AddKernel(sess Session, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	s.scripts[sess.KernelID] = script
}

// Requests returns the execute requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" &&
			r.URL.Query().Get("token") != s.Token &&
			r.Header.Get("Authorization") != "token "+s.Token {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message": "Forbidden", "reason": null}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": s.version})
}

func (s *Server) getSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, map[string]any{
			"id":       "session-" + sess.KernelID,
			"path":     sess.Path,
			"name":     sess.Name,
			"type":     "notebook",
			"kernel":   map[string]any{"id": sess.KernelID, "name": "python3", "execution_state": "idle"},
			"notebook": map[string]any{"path": sess.Path, "name": sess.Name},
		})
	}
	writeJSON(w, out)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) channels(w http.ResponseWriter, r *http.Request) {
	kernelID := chi.URLParam(r, "kernelID")
	s.mu.Lock()
	script, ok := s.scripts[kernelID]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Kernel does not exist: ` + kernelID + `"}`))
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		m, err := protocol.Decode(data)
		if err != nil || m.Type() != protocol.MsgExecuteRequest {
			continue
		}
		code, _ := m.Content["code"].(string)
		req := Request{KernelID: kernelID, MsgID: m.Header.MsgID, Code: code}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		for _, f := range script(req) {
			if f.Delay > 0 {
				time.Sleep(f.Delay)
			}
			if err := ws.WriteMessage(websocket.TextMessage, f.Data); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

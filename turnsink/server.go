// Package turnsink is the local log receiver for turnwatch: it accepts one
// JSON entry per POST /log and appends it as a line to an NDJSON file. It
// does not reinterpret entries beyond checking they are JSON objects.
package turnsink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// DefaultPath is the NDJSON file written when none is configured.
const DefaultPath = "conversations.ndjson"

// MaxEntry caps the size of one POSTed entry.
const MaxEntry = 4 << 20

// Server appends entries to an NDJSON file.
type Server struct {
	path   string
	logger *slog.Logger
	router chi.Router

	// mu serialises appends so concurrent requests never interleave lines.
	mu sync.Mutex
	f  *os.File

	lines atomic.Int64
}

// New opens (or creates) path for appending and wires the routes.
func New(path string, logger *slog.Logger) (*Server, error) {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("turnsink: open %s: %w", path, err)
	}

	s := &Server{path: path, logger: logger, f: f}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceID(logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Post("/log", s.handleLog)
	r.Get("/healthz", s.handleHealth)
	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Lines returns how many entries were appended since start.
func (s *Server) Lines() int64 { return s.lines.Load() }

// Close closes the NDJSON file.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

var errNotObject = errors.New("entry must be a JSON object")

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxEntry))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}
	line, err := normalise(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.append(line); err != nil {
		requestLogger(r.Context(), s.logger).Error("turnsink: append failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "write failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "lines": s.lines.Load()})
}

// normalise validates body as a JSON object and compacts it onto one line.
func normalise(body []byte) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, errNotObject
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (s *Server) append(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.f.Write(line); err != nil {
		return err
	}
	s.lines.Add(1)
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

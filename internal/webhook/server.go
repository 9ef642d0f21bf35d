// Package webhook serves the HTTP endpoints of webhook triggers. Accepted
// requests are queued on their trigger; the monitor turns them into runs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/trigger"
)

// MaxBodyBytes bounds the size of an accepted request body.
const MaxBodyBytes = 1 << 20

// Server routes POST /hooks/{endpoint} to the webhook trigger bound to that
// endpoint.
type Server struct {
	addr      string
	endpoints map[string]*trigger.Webhook

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer maps every trigger by its endpoint. Two triggers may not share an
// endpoint.
func NewServer(addr string, triggers []*trigger.Webhook) (*Server, error) {
	endpoints := make(map[string]*trigger.Webhook, len(triggers))
	for _, t := range triggers {
		if prev, ok := endpoints[t.Endpoint()]; ok {
			return nil, fmt.Errorf("webhook endpoint %q is bound to both %q and %q", t.Endpoint(), prev.ID(), t.ID())
		}
		endpoints[t.Endpoint()] = t
	}
	return &Server{addr: addr, endpoints: endpoints}, nil
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /_health", s.handleHealth)
	mux.HandleFunc("POST /hooks/{endpoint...}", s.handleHook)
	mux.HandleFunc("/hooks/{endpoint...}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return mux
}

// Start binds the listener and serves in the background. A bind failure is
// returned to the caller.
func (s *Server) Start(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("webhook server already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webhook server: listen %s: %w", s.addr, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.listener = listener
	s.server = server
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Webhook server failed unexpectedly", "error", err)
		}
	}(s.done)

	logger.Info("🪝 Webhook server listening", "address", listener.Addr().String(), "endpoints", len(s.endpoints))
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	ctxlog.FromContext(ctx).Info("🪝 Shutting down webhook server...")
	err := s.server.Shutdown(ctx)
	<-s.done
	s.server = nil
	s.listener = nil
	return err
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())
	endpoint := trigger.NormalizeEndpoint(r.PathValue("endpoint"))
	t, ok := s.endpoints[endpoint]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown endpoint"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}

	params, err := decodeObject(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	req := trigger.Request{
		Body:    params,
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header,
	}
	if err := t.EnqueueRequest(req); err != nil {
		logger.Warn("Webhook request rejected.", "trigger_id", t.ID(), "endpoint", endpoint, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		return
	}
	logger.Debug("Webhook request queued.", "trigger_id", t.ID(), "endpoint", endpoint)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// decodeObject accepts an empty body or a JSON object.
func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.New("invalid JSON")
	}
	if dec.More() {
		return nil, errors.New("invalid JSON: trailing data")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("body must be a JSON object")
	}
	return obj, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

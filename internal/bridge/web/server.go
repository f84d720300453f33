// Package web serves the dashboard front-end and a JSON API mirroring
// the daemon's query surface, plus a WebSocket push channel for model
// version changes.
package web

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/necessary-nu/tracey/internal/daemon"
	"github.com/necessary-nu/tracey/internal/logging"
)

// Server is the HTTP bridge. All state lives in the daemon; the bridge
// holds one shared RPC client.
type Server struct {
	root   string
	addr   string
	logger *logging.Logger
	client *daemon.Client
	router *http.ServeMux
	server *http.Server

	subMu       sync.Mutex
	subscribers map[chan uint64]bool
	lastVersion uint64
}

// NewServer creates the HTTP bridge on addr, sharing the given daemon
// client.
func NewServer(root, addr string, client *daemon.Client, logger *logging.Logger) *Server {
	s := &Server{
		root:        root,
		addr:        addr,
		logger:      logger,
		client:      client,
		router:      http.NewServeMux(),
		subscribers: make(map[chan uint64]bool),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.applyMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start subscribes to daemon version pushes and serves until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	v, err := s.client.Subscribe(ctx, s.fanout)
	cancel()
	if err != nil {
		return err
	}
	s.subMu.Lock()
	s.lastVersion = v
	s.subMu.Unlock()

	s.logger.Info("HTTP bridge listening", map[string]interface{}{"addr": s.addr})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.subMu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan uint64]bool)
	s.subMu.Unlock()

	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// fanout relays one daemon version notification to every WebSocket
// subscriber, keeping only the latest value per subscriber.
func (s *Server) fanout(v uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if v < s.lastVersion {
		return
	}
	s.lastVersion = v
	for ch := range s.subscribers {
		select {
		case ch <- v:
		default:
			// Subscriber is behind; drop the intermediate value. It
			// reads the newer one on its next receive.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (s *Server) subscribe() chan uint64 {
	ch := make(chan uint64, 1)
	s.subMu.Lock()
	s.subscribers[ch] = true
	ch <- s.lastVersion
	s.subMu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan uint64) {
	s.subMu.Lock()
	if s.subscribers[ch] {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

// wsMessage is the push-channel payload.
type wsMessage struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
}

// handleWS implements GET /ws.
func (s *Server) handleWS(ws *websocket.Conn) {
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for v := range ch {
		if err := websocket.JSON.Send(ws, wsMessage{Type: "version", Version: v}); err != nil {
			return
		}
	}
}

func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = recoveryMiddleware(s.logger)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	return handler
}

func recoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("Handler panic", map[string]interface{}{
						"path":  r.URL.Path,
						"panic": fmt.Sprint(rec),
					})
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("Request", map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"durationMs": time.Since(start).Milliseconds(),
			})
		})
	}
}

// Package server owns the HTTP listener and the graceful shutdown sequence.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nicknochnack/whisperd/broker"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/websocket"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	httpServer *http.Server
}

// NewServer builds the HTTP server exposing the websocket endpoint at /ws and
// a liveness probe at /healthz.
func NewServer(addr string, wsHandler http.HandlerFunc) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start blocks serving requests until the listener is closed.
func (s *Server) Start() {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server failed", "error", err)
	}
}

// Shutdown drains the server: it stops accepting connections, closes every
// live websocket, waits for in-flight assistant work, then closes the relay.
func (s *Server) Shutdown(ctx context.Context, manager *websocket.ClientManager, relay broker.MessageBroker) {
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	manager.CloseAllConnections("Server shutting down")
	manager.WaitForCompletion()

	if relay != nil {
		if err := relay.Close(); err != nil {
			logger.Warn("relay close failed", "error", err)
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/utils/config"
)

// Server hosts the scan API.
type Server struct {
	handler    *Handler
	httpServer *http.Server
	addr       string
	log        logger.Logger
}

// NewServer builds the route table. WriteTimeout stays unset because
// SSE streams outlive any fixed bound.
func NewServer(cfg config.ServerConfig, handler *Handler) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/scan", handler.StartScanHandler)
	mux.HandleFunc("GET /api/scan/{id}/events", handler.ScanEventsHandler)
	mux.HandleFunc("GET /api/scan/{id}/result", handler.ScanResultHandler)
	mux.HandleFunc("POST /api/batch", handler.StartBatchHandler)
	mux.HandleFunc("GET /api/batch/{id}/events", handler.BatchEventsHandler)
	mux.HandleFunc("POST /api/batch/{id}/stop", handler.StopBatchHandler)
	mux.HandleFunc("GET /healthz", handler.HealthHandler)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		handler:    handler,
		httpServer: httpServer,
		addr:       addr,
		log:        logger.GetLogger().WithField("component", "api"),
	}
}

// Start brings the listener up and returns once it is accepting, or
// with the startup error.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting API server", logger.Fields{
		"addr": s.addr,
		"endpoints": []string{
			"/api/scan",
			"/api/scan/{id}/events",
			"/api/scan/{id}/result",
			"/api/batch",
			"/api/batch/{id}/events",
			"/api/batch/{id}/stop",
			"/healthz",
		},
	})

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start API server: %w", err)
	case <-time.After(100 * time.Millisecond):
		s.log.Info("API server started successfully", logger.Fields{"addr": s.addr})
		return nil
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

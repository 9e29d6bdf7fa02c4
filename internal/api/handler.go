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

// Package api exposes scans over HTTP: submit, poll, and watch live
// progress via Server-Sent Events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/registry"
	"github.com/consentry/consentry/pkg/scan"
	"github.com/consentry/consentry/pkg/store"
	"github.com/consentry/consentry/pkg/supervisor"
)

// keepaliveInterval is how long an SSE stream may stay silent before a
// comment line is written to hold proxies open.
const keepaliveInterval = 120 * time.Second

// Handler wires HTTP routes to the supervisor, registry, and store.
type Handler struct {
	reg   *registry.Registry
	store *store.Store
	sup   *supervisor.Supervisor
	log   logger.Logger
}

func NewHandler(reg *registry.Registry, st *store.Store, sup *supervisor.Supervisor) *Handler {
	return &Handler{
		reg:   reg,
		store: st,
		sup:   sup,
		log:   logger.GetLogger().WithField("component", "api"),
	}
}

type scanRequest struct {
	URL string `json:"url"`
}

type batchRequest struct {
	URLs []string `json:"urls"`
}

// batchStatus mirrors a worker progress event into the batch stream
// with the position of the domain being scanned.
type batchStatus struct {
	CurrentURL   string  `json:"current_url"`
	CurrentIndex int     `json:"current_index"`
	Total        int     `json:"total"`
	Message      string  `json:"message"`
	Step         int     `json:"step"`
	TotalSteps   int     `json:"total_steps"`
	Elapsed      float64 `json:"elapsed"`
}

type domainComplete struct {
	Index   int            `json:"index"`
	Total   int            `json:"total"`
	URL     string         `json:"url"`
	ScanID  string         `json:"scan_id"`
	Verdict models.Verdict `json:"verdict"`
}

// StartScanHandler accepts a scan request and returns its ID
// immediately. The scan itself runs in a background supervised worker.
func (h *Handler) StartScanHandler(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL is required"})
		return
	}

	targetURL := models.NormalizeURL(req.URL)
	scanID := uuid.NewString()
	entry := h.reg.NewScan(scanID, targetURL)

	h.log.Info("Scan accepted", logger.Fields{
		"scan_id": scanID,
		"url":     targetURL,
		"remote":  r.RemoteAddr,
	})

	go h.runScan(entry, targetURL)

	writeJSON(w, http.StatusAccepted, map[string]string{"scan_id": scanID})
}

func (h *Handler) runScan(entry *registry.Scan, targetURL string) {
	defer entry.Close()

	result := h.sup.Run(context.Background(), entry.ID, targetURL, func(ev models.ProgressEvent) {
		entry.Publish("status", ev)
	})

	if h.store != nil {
		if err := h.store.Save(result); err != nil {
			h.log.Warn("Failed to persist scan result", logger.Fields{
				"scan_id": entry.ID,
				"error":   err.Error(),
			})
		}
	}
	entry.Complete(result)
}

// ScanEventsHandler streams scan progress as SSE until the scan ends.
func (h *Handler) ScanEventsHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := h.reg.Scan(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Scan not found"})
		return
	}
	h.streamEvents(w, r, entry.Events())
}

// ScanResultHandler returns the finished result, a 202 while the scan
// is still running, or the stored result after a restart.
func (h *Handler) ScanResultHandler(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("id")

	if entry, err := h.reg.Scan(scanID); err == nil {
		done, result, errMsg := entry.Status()
		switch {
		case !done:
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "in_progress"})
		case errMsg != "":
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": errMsg})
		default:
			writeJSON(w, http.StatusOK, result)
		}
		return
	}

	if h.store != nil {
		result, err := h.store.GetByScanID(scanID)
		if err == nil {
			writeJSON(w, http.StatusOK, result)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Warn("Store lookup failed", logger.Fields{
				"scan_id": scanID,
				"error":   err.Error(),
			})
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Scan not found"})
}

// StartBatchHandler accepts a URL list and runs it sequentially in the
// background.
func (h *Handler) StartBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "At least one URL is required"})
		return
	}
	var urls []string
	for _, raw := range req.URLs {
		if normalized := models.NormalizeURL(raw); normalized != "" {
			urls = append(urls, normalized)
		}
	}
	if len(urls) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "At least one URL is required"})
		return
	}

	batchID := uuid.NewString()
	runner := supervisor.NewBatchRunner(h.sup)
	entry := h.reg.NewBatch(batchID, urls, runner.Stop)

	h.log.Info("Batch accepted", logger.Fields{
		"batch_id": batchID,
		"urls":     len(urls),
		"remote":   r.RemoteAddr,
	})

	go h.runBatch(entry, runner, urls)

	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (h *Handler) runBatch(entry *registry.Batch, runner *supervisor.BatchRunner, urls []string) {
	defer entry.Close()
	total := len(urls)
	ctx := logger.ContextWithBatchID(context.Background(), entry.ID)

	summary, err := runner.Run(ctx, urls, supervisor.BatchHooks{
		OnStart: func(i int, url string) {
			entry.Publish("batch_status", batchStatus{
				CurrentURL:   url,
				CurrentIndex: i,
				Total:        total,
				Message:      fmt.Sprintf("Starting scan of %s", url),
				TotalSteps:   scan.TotalSteps,
			})
		},
		OnProgress: func(i int, ev models.ProgressEvent) {
			entry.Publish("batch_status", batchStatus{
				CurrentURL:   urls[i],
				CurrentIndex: i,
				Total:        total,
				Message:      ev.Message,
				Step:         ev.Step,
				TotalSteps:   ev.TotalSteps,
				Elapsed:      ev.Elapsed,
			})
		},
		OnComplete: func(i int, result *models.ScanResult) {
			if h.store != nil {
				if err := h.store.Save(result); err != nil {
					h.log.Warn("Failed to persist batch scan result", logger.Fields{
						"scan_id": result.ScanID,
						"error":   err.Error(),
					})
				}
			}
			entry.Publish("domain_complete", domainComplete{
				Index:   i,
				Total:   total,
				URL:     result.URL,
				ScanID:  result.ScanID,
				Verdict: result.Verdict,
			})
		},
	})
	if err != nil && !errors.Is(err, supervisor.ErrStopped) {
		entry.Publish("batch_error", map[string]string{"message": err.Error()})
	}
	entry.Finish(summary)
}

// BatchEventsHandler streams batch progress as SSE.
func (h *Handler) BatchEventsHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := h.reg.Batch(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Batch scan not found"})
		return
	}
	h.streamEvents(w, r, entry.Events())
}

// StopBatchHandler requests the batch to stop once the current scan
// finishes. The scan in flight is never interrupted.
func (h *Handler) StopBatchHandler(w http.ResponseWriter, r *http.Request) {
	entry, err := h.reg.Batch(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Batch scan not found"})
		return
	}
	entry.RequestStop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// HealthHandler reports liveness.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamEvents relays registry events to the client until the channel
// closes, then sends the done sentinel.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan registry.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Connection", "keep-alive")

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				writeSSE(w, "done", map[string]string{"status": "finished"})
				flusher.Flush()
				return
			}
			writeSSE(w, ev.Type, ev.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, eventType string, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		encoded = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, encoded)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.GetLogger().Error("Failed to encode response", logger.Fields{
			"error": err.Error(),
		})
	}
}

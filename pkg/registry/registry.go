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

// Package registry tracks in-flight and recently finished scans in
// memory. Each entry carries an event stream for SSE relays and expires
// a fixed time after it finishes; durable storage is pkg/store's job.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/consentry/consentry/pkg/models"
)

// ResultRetention is how long a finished entry stays available for
// result polls and late SSE subscribers.
const ResultRetention = 600 * time.Second

// eventBuffer bounds one entry's event channel. A scan emits around 25
// events; overflow is dropped rather than blocking the producer.
const eventBuffer = 256

// ErrNotFound reports an unknown or expired scan or batch ID.
var ErrNotFound = errors.New("scan not found")

// Event is one message bound for an SSE stream.
type Event struct {
	Type string
	Data any
}

// Scan is the live record of one scan: its event stream and, once
// finished, its result or error.
type Scan struct {
	ID  string
	URL string

	mu      sync.Mutex
	done    bool
	closed  bool
	result  *models.ScanResult
	errMsg  string
	events  chan Event
	onClose func()
}

// Publish queues an event for the SSE stream. Events published after
// Close, or past the buffer, are dropped.
func (s *Scan) Publish(eventType string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- Event{Type: eventType, Data: data}:
	default:
	}
}

// Complete records the result and announces it on the stream.
func (s *Scan) Complete(result *models.ScanResult) {
	s.mu.Lock()
	s.result = result
	s.done = true
	s.mu.Unlock()
	s.Publish("complete", result)
}

// Fail records a scan-level error and announces it on the stream.
func (s *Scan) Fail(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.done = true
	s.mu.Unlock()
	s.Publish("scan_error", map[string]string{"message": msg})
}

// Close ends the event stream and starts the retention countdown.
// Always called by the scan runner, exactly once, after Complete or
// Fail.
func (s *Scan) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	onClose := s.onClose
	s.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

// Events returns the stream. The channel closes when the scan is over.
func (s *Scan) Events() <-chan Event {
	return s.events
}

// Status snapshots the entry for the result endpoint.
func (s *Scan) Status() (done bool, result *models.ScanResult, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done, s.result, s.errMsg
}

// Batch is the live record of one batch run.
type Batch struct {
	ID   string
	URLs []string

	stop func()

	mu      sync.Mutex
	done    bool
	closed  bool
	events  chan Event
	onClose func()
}

// Publish queues an event for the batch SSE stream.
func (b *Batch) Publish(eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- Event{Type: eventType, Data: data}:
	default:
	}
}

// Finish announces the summary and marks the batch done.
func (b *Batch) Finish(summary models.BatchSummary) {
	b.Publish("batch_complete", summary)
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
}

// Close ends the event stream and starts the retention countdown.
func (b *Batch) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	onClose := b.onClose
	b.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

// Events returns the stream. The channel closes when the batch is over.
func (b *Batch) Events() <-chan Event {
	return b.events
}

// RequestStop asks the batch runner to stop after the current scan.
func (b *Batch) RequestStop() {
	if b.stop != nil {
		b.stop()
	}
}

// Done reports whether the batch has finished.
func (b *Batch) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Registry is the id-keyed map of live scans and batches.
type Registry struct {
	mu        sync.RWMutex
	scans     map[string]*Scan
	batches   map[string]*Batch
	retention time.Duration
}

func New() *Registry {
	return &Registry{
		scans:     make(map[string]*Scan),
		batches:   make(map[string]*Batch),
		retention: ResultRetention,
	}
}

// NewScan registers a scan entry and returns its handle.
func (r *Registry) NewScan(id, url string) *Scan {
	s := &Scan{
		ID:     id,
		URL:    url,
		events: make(chan Event, eventBuffer),
	}
	s.onClose = func() { r.expireScan(id) }

	r.mu.Lock()
	r.scans[id] = s
	r.mu.Unlock()
	return s
}

// Scan looks up a live or recently finished scan.
func (r *Registry) Scan(id string) (*Scan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// NewBatch registers a batch entry. stop is invoked when a client
// requests the cooperative stop.
func (r *Registry) NewBatch(id string, urls []string, stop func()) *Batch {
	b := &Batch{
		ID:     id,
		URLs:   urls,
		stop:   stop,
		events: make(chan Event, eventBuffer),
	}
	b.onClose = func() { r.expireBatch(id) }

	r.mu.Lock()
	r.batches[id] = b
	r.mu.Unlock()
	return b
}

// Batch looks up a live or recently finished batch.
func (r *Registry) Batch(id string) (*Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (r *Registry) expireScan(id string) {
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.scans, id)
		r.mu.Unlock()
	})
}

func (r *Registry) expireBatch(id string) {
	time.AfterFunc(r.retention, func() {
		r.mu.Lock()
		delete(r.batches, id)
		r.mu.Unlock()
	})
}

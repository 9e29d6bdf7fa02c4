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

package scan

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/consentry/consentry/pkg/models"
)

// maxCapturedRequests caps the per-observer buffer; hostile pages can
// emit requests without end.
const maxCapturedRequests = 2000

// NetworkObserver records outgoing requests from the moment it attaches
// until it detaches. The baseline listener in phase 1 and the
// monitoring listener in phase 2 are separate observers, so their
// streams never mix.
type NetworkObserver struct {
	mu       sync.Mutex
	started  time.Time
	requests []models.CapturedRequest
	cancel   context.CancelFunc
}

// AttachObserver starts capturing requests on the page. Relative times
// are measured from the attach instant.
func AttachObserver(page *rod.Page) *NetworkObserver {
	ctx, cancel := context.WithCancel(context.Background())
	o := &NetworkObserver{
		started: time.Now(),
		cancel:  cancel,
	}
	p := page.Context(ctx)
	go p.EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		o.record(e)
	})()
	return o
}

// Detach stops capturing. Requests recorded so far stay available.
func (o *NetworkObserver) Detach() {
	o.cancel()
}

func (o *NetworkObserver) record(e *proto.NetworkRequestWillBeSent) {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.requests) >= maxCapturedRequests {
		return
	}

	headers := make(map[string]string, len(e.Request.Headers))
	for k, v := range e.Request.Headers {
		headers[k] = v.Str()
	}

	o.requests = append(o.requests, models.CapturedRequest{
		URL:            e.Request.URL,
		Method:         e.Request.Method,
		ResourceType:   string(e.Type),
		PostDataLength: len(e.Request.PostData),
		Timestamp:      now,
		RelativeTime:   now.Sub(o.started).Seconds(),
		Headers:        headers,
	})
}

// StartedAt is the instant the observer attached.
func (o *NetworkObserver) StartedAt() time.Time {
	return o.started
}

// Requests returns a copy of everything captured so far.
func (o *NetworkObserver) Requests() []models.CapturedRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.CapturedRequest, len(o.requests))
	copy(out, o.requests)
	return out
}

// URLs returns the captured request URLs in order.
func (o *NetworkObserver) URLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	urls := make([]string, len(o.requests))
	for i, r := range o.requests {
		urls[i] = r.URL
	}
	return urls
}

// Count reports how many requests have been captured.
func (o *NetworkObserver) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

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
	"fmt"
	"sync"
	"time"

	"github.com/consentry/consentry/pkg/models"
)

// Reporter forwards progress checkpoints to an optional callback and
// accumulates the scan timeline for the final result.
type Reporter struct {
	started  time.Time
	callback func(models.ProgressEvent)

	mu       sync.Mutex
	timeline []models.TimelineEntry
}

// NewReporter creates a reporter; callback may be nil.
func NewReporter(callback func(models.ProgressEvent)) *Reporter {
	return &Reporter{
		started:  time.Now(),
		callback: callback,
	}
}

// Report records a checkpoint and relays it to the callback.
func (r *Reporter) Report(step int, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	now := time.Now()

	r.mu.Lock()
	r.timeline = append(r.timeline, models.TimelineEntry{
		Step:      step,
		Message:   message,
		Timestamp: now,
	})
	r.mu.Unlock()

	if r.callback != nil {
		r.callback(models.ProgressEvent{
			Message:    message,
			Step:       step,
			TotalSteps: TotalSteps,
			Elapsed:    now.Sub(r.started).Seconds(),
		})
	}
}

// Timeline returns a copy of the checkpoints recorded so far.
func (r *Reporter) Timeline() []models.TimelineEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TimelineEntry, len(r.timeline))
	copy(out, r.timeline)
	return out
}

// Elapsed is the time since the reporter was created.
func (r *Reporter) Elapsed() time.Duration {
	return time.Since(r.started)
}

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

// Package supervisor runs each scan in a dedicated worker process so a
// wedged browser can be killed without cooperation, and turns the
// worker's stdout stream back into progress events and a result.
package supervisor

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/consentry/consentry/pkg/models"
)

// Envelope types on the worker's stdout. Each line is one JSON object;
// stderr carries logs and is never parsed.
const (
	TypeStatus = "status"
	TypeResult = "result"
)

// Envelope is one newline-delimited JSON message from worker to
// supervisor. Status lines stream progress; exactly one result line
// ends the conversation.
type Envelope struct {
	Type string `json:"type"`

	Message    string  `json:"message,omitempty"`
	Step       int     `json:"step,omitempty"`
	TotalSteps int     `json:"total_steps,omitempty"`
	Elapsed    float64 `json:"elapsed,omitempty"`

	Result *models.ScanResult `json:"result,omitempty"`
}

// Progress converts a status envelope back into the event it carried.
func (e Envelope) Progress() models.ProgressEvent {
	return models.ProgressEvent{
		Message:    e.Message,
		Step:       e.Step,
		TotalSteps: e.TotalSteps,
		Elapsed:    e.Elapsed,
	}
}

// EncodeStatus writes one status line for a progress event.
func EncodeStatus(w io.Writer, ev models.ProgressEvent) error {
	return json.NewEncoder(w).Encode(Envelope{
		Type:       TypeStatus,
		Message:    ev.Message,
		Step:       ev.Step,
		TotalSteps: ev.TotalSteps,
		Elapsed:    ev.Elapsed,
	})
}

// EncodeResult writes the terminal result line.
func EncodeResult(w io.Writer, result *models.ScanResult) error {
	return json.NewEncoder(w).Encode(Envelope{
		Type:   TypeResult,
		Result: result,
	})
}

// DecodeLine parses one stdout line. Lines that are not valid envelopes
// (stray prints from a library) are reported as errors and skipped by
// the caller.
func DecodeLine(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed worker line: %w", err)
	}
	if env.Type != TypeStatus && env.Type != TypeResult {
		return Envelope{}, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return env, nil
}

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

package supervisor

import (
	"fmt"
	"os"
	"time"

	"github.com/consentry/consentry/pkg/browser"
	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
	"github.com/consentry/consentry/pkg/scan"
	"github.com/consentry/consentry/pkg/utils/config"
)

// RunWorker is the worker-process entrypoint: launch a browser, run the
// scan, stream progress and the result to stdout. Any failure still
// produces a result line so the supervisor never has to guess.
func RunWorker(cfg config.ScannerConfig, scanID, targetURL string) error {
	log := logger.GetLogger().WithField("component", "worker")
	started := time.Now()

	emitFailure := func(format string, args ...any) error {
		result := &models.ScanResult{
			ScanID:              scanID,
			URL:                 targetURL,
			Domain:              models.Hostname(targetURL),
			StartedAt:           started,
			Verdict:             models.VerdictUnknown,
			TrackersBefore:      []string{},
			TrackersAfter:       []string{},
			TikTokTrackersAfter: []string{},
			Duration:            time.Since(started).Seconds(),
		}
		result.AddNote(format, args...)
		return EncodeResult(os.Stdout, result)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker crashed", logger.Fields{"panic": fmt.Sprint(r)})
			_ = emitFailure("Worker crashed: %v", r)
		}
	}()

	inst, err := browser.Launch(cfg)
	if err != nil {
		log.Error("Browser launch failed", logger.Fields{"error": err.Error()})
		if emitErr := emitFailure("Browser launch failed: %v", err); emitErr != nil {
			return emitErr
		}
		return err
	}
	defer inst.Close()

	scanner := scan.NewScanner(inst.Browser, cfg)
	result := scanner.ScanURL(scanID, targetURL, func(ev models.ProgressEvent) {
		if err := EncodeStatus(os.Stdout, ev); err != nil {
			log.Warn("Failed to emit status line", logger.Fields{"error": err.Error()})
		}
	})

	if err := EncodeResult(os.Stdout, result); err != nil {
		return fmt.Errorf("failed to emit result: %w", err)
	}
	return nil
}

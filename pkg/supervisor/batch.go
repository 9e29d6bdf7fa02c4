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
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
)

// BatchHooks observe a batch run. Any hook may be nil.
type BatchHooks struct {
	OnStart    func(index int, url string)
	OnProgress func(index int, ev models.ProgressEvent)
	OnComplete func(index int, result *models.ScanResult)
}

// BatchRunner scans a URL list sequentially, one supervised worker at a
// time. Stop requests are honored between scans only; the scan in
// flight always runs to its own deadline.
type BatchRunner struct {
	sup     *Supervisor
	log     logger.Logger
	stopped atomic.Bool
}

func NewBatchRunner(sup *Supervisor) *BatchRunner {
	return &BatchRunner{
		sup: sup,
		log: logger.GetLogger().WithField("component", "batch"),
	}
}

// Stop requests a cooperative stop. Safe from any goroutine.
func (b *BatchRunner) Stop() {
	b.stopped.Store(true)
}

// Run scans every URL in order and totals the verdicts. When a stop
// lands mid-batch the summary covers the scans that ran and the error
// is ErrStopped.
func (b *BatchRunner) Run(ctx context.Context, urls []string, hooks BatchHooks) (models.BatchSummary, error) {
	summary := models.BatchSummary{Total: len(urls)}
	log := b.log.WithContext(ctx)

	for i, raw := range urls {
		if b.stopped.Load() || ctx.Err() != nil {
			summary.Stopped = true
			log.Info("Batch stopped", logger.Fields{
				"completed": i,
				"total":     len(urls),
			})
			return summary, ErrStopped
		}

		target := models.NormalizeURL(raw)
		scanID := uuid.NewString()
		if hooks.OnStart != nil {
			hooks.OnStart(i, target)
		}
		log.Info("Batch scan starting", logger.Fields{
			"index":   i + 1,
			"total":   len(urls),
			"url":     target,
			"scan_id": scanID,
		})

		index := i
		var progress func(models.ProgressEvent)
		if hooks.OnProgress != nil {
			progress = func(ev models.ProgressEvent) { hooks.OnProgress(index, ev) }
		}

		result := b.sup.Run(ctx, scanID, target, progress)
		switch result.Verdict {
		case models.VerdictViolation:
			summary.Violations++
		case models.VerdictClean:
			summary.Clean++
		}

		if hooks.OnComplete != nil {
			hooks.OnComplete(index, result)
		}
	}
	return summary, nil
}

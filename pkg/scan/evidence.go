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
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/models"
)

// screenshotTimeout bounds each capture; a wedged renderer must not
// stall the scan.
const screenshotTimeout = 5 * time.Second

// Evidence writes screenshots under <dataDir>/screenshots with
// deterministic names derived from the scanned host.
type Evidence struct {
	dir        string
	safeDomain string
	log        logger.Logger
}

// NewEvidence prepares the screenshots directory for a host.
func NewEvidence(dataDir, host string) (*Evidence, error) {
	dir := filepath.Join(dataDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshots directory: %w", err)
	}
	return &Evidence{
		dir:        dir,
		safeDomain: models.SafeDomain(host),
		log:        logger.GetLogger().WithField("component", "evidence"),
	}, nil
}

// Capture saves a screenshot as {safeDomain}_{label}.png and returns
// the saved path.
func (e *Evidence) Capture(page *rod.Page, label string, fullPage bool) (string, error) {
	path := filepath.Join(e.dir, fmt.Sprintf("%s_%s.png", e.safeDomain, label))

	var data []byte
	err := rod.Try(func() {
		p := page.Timeout(screenshotTimeout)
		if fullPage {
			data = p.MustScreenshotFullPage()
		} else {
			data = p.MustScreenshot()
		}
	})
	if err != nil {
		return "", fmt.Errorf("screenshot %s failed: %w", label, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}

	e.log.Debug("Screenshot saved", logger.Fields{
		"label": label,
		"path":  path,
	})
	return path, nil
}

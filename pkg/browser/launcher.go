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

// Package browser launches and tears down the headless browser behind a
// scan worker. Each worker process owns exactly one browser; isolation
// between scans comes from the worker process boundary, not from
// pooling.
package browser

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/utils/config"
)

type Instance struct {
	Browser  *rod.Browser
	launcher *launcher.Launcher
	log      logger.Logger
}

// Launch starts a Chromium instance with the scan-friendly flag set and
// connects to it.
func Launch(cfg config.ScannerConfig) (*Instance, error) {
	log := logger.GetLogger().WithField("component", "browser")

	l := launcher.New().
		Set("disable-dev-shm-usage", "").
		Set("disable-gpu", "").
		Set("disable-web-security", "").
		Set("disable-features", "VizDisplayCompositor").
		Headless(cfg.Headless)
	if cfg.NoSandbox {
		l = l.Set("no-sandbox", "")
	}
	if cfg.BrowserPath != "" {
		l = l.Bin(cfg.BrowserPath)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}

	u, err := l.Launch()
	if err != nil {
		log.Error("Failed to launch browser", logger.Fields{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	var b *rod.Browser
	err = rod.Try(func() {
		b = rod.New().
			ControlURL(u).
			MustConnect().
			MustIgnoreCertErrors(true)
	})
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	log.Debug("Browser launched", logger.Fields{
		"headless": cfg.Headless,
	})

	return &Instance{
		Browser:  b,
		launcher: l,
		log:      log,
	}, nil
}

// Close shuts down the browser, force-killing the underlying process if
// the graceful close fails.
func (i *Instance) Close() {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("Panic during browser cleanup", logger.Fields{"panic": r})
		}
	}()
	if i.Browser != nil {
		if err := i.Browser.Close(); err != nil {
			i.log.Warn("Browser close failed, will force kill launcher", logger.Fields{
				"error": err.Error(),
			})
		}
	}
	if i.launcher != nil {
		i.launcher.Kill()
		time.Sleep(100 * time.Millisecond)
	}
}

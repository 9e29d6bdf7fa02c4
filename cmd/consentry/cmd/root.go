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

// Package cmd implements the consentry command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/consentry/consentry/pkg/logger"
	"github.com/consentry/consentry/pkg/utils/config"
)

// Exit codes returned by the process. Scripts key off these, so they
// are part of the CLI contract.
const (
	ExitOK        = 0
	ExitError     = 1
	ExitViolation = 3
)

// ErrViolation is returned by the scan and batch commands when at least
// one site kept sending primary-tracker traffic after the opt-out.
var ErrViolation = errors.New("tracking continued after opt-out")

var rootCmd = &cobra.Command{
	Use:   "consentry",
	Short: "Checks whether e-commerce sites respect cookie opt-out choices",
	Long: `Consentry drives a real browser through a two-phase scan: it visits a
site, performs the cookie opt-out, then browses like a shopper while
recording which trackers keep phoning home.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the outcome code.
// SIGINT and SIGTERM cancel the command context so an in-flight scan
// worker is killed instead of orphaned in its own process group.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		if errors.Is(err, ErrViolation) {
			os.Exit(ExitViolation)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitError)
	}
}

// loadOrDefault loads the YAML configuration when a path is given and
// falls back to built-in defaults otherwise, so one-shot scans work
// without any config file. A log level named in the file overrides the
// CONSENTRY_LOG_LEVEL environment variable.
func loadOrDefault(configPath string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	}
	if level, ok := logger.ParseLevel(cfg.Logging.Level); ok {
		logger.GetLogger().SetLevel(level)
	}
	return cfg, nil
}

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

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/consentry/consentry/pkg/supervisor"
)

var (
	workerScanID     string
	workerURL        string
	workerConfigPath string
)

// workerCmd is spawned by the supervisor, never run by hand. Its stdout
// carries the NDJSON wire protocol, so nothing here may print to it.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single scan and emit progress and result on stdout",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadOrDefault(workerConfigPath)
		if err != nil {
			return err
		}
		return supervisor.RunWorker(cfg.Scanner, workerScanID, workerURL)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerScanID, "scan-id", "", "scan identifier assigned by the supervisor")
	workerCmd.Flags().StringVar(&workerURL, "url", "", "target URL to scan")
	workerCmd.Flags().StringVar(&workerConfigPath, "config", "", "path to configuration file")
	_ = workerCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(workerCmd)
}

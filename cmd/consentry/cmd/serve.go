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

	"github.com/consentry/consentry/internal/app"
	_ "github.com/consentry/consentry/plugins/audit/runner"
	_ "github.com/consentry/consentry/plugins/discovery/cronjob/rescan"
	_ "github.com/consentry/consentry/plugins/discovery/cronjob/sweep"
	_ "github.com/consentry/consentry/plugins/discovery/informer/ingress"
	_ "github.com/consentry/consentry/plugins/handle/database"
	_ "github.com/consentry/consentry/plugins/handle/lark"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan API service with continuous-audit plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(serveConfigPath)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "config/config.yaml", "path to configuration file")
	rootCmd.AddCommand(serveCmd)
}

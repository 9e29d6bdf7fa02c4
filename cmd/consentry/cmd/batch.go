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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// DefaultURLFile is read when batch is invoked with no URLs at all.
const DefaultURLFile = "urls.txt"

var (
	batchFile       string
	batchConfigPath string
)

var batchCmd = &cobra.Command{
	Use:   "batch [url...]",
	Short: "Scan a list of URLs sequentially and print a final report",
	RunE: func(cmd *cobra.Command, args []string) error {
		urls := append([]string(nil), args...)
		switch {
		case batchFile != "":
			fromFile, err := loadURLsFromFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		case len(urls) == 0:
			if _, err := os.Stat(DefaultURLFile); err == nil {
				fmt.Printf("[*] No URLs provided — reading from %s\n", DefaultURLFile)
				fromFile, err := loadURLsFromFile(DefaultURLFile)
				if err != nil {
					return err
				}
				urls = fromFile
			}
		}
		if len(urls) == 0 {
			return errors.New("no URLs to scan: pass URLs or --file urls.txt")
		}
		return scanURLs(cmd.Context(), batchConfigPath, urls)
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "text file with one URL per line")
	batchCmd.Flags().StringVarP(&batchConfigPath, "config", "c", "", "path to configuration file")
	rootCmd.AddCommand(batchCmd)
}

// loadURLsFromFile reads one URL per line. Blank lines and lines
// starting with # are ignored.
func loadURLsFromFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read URL file: %w", err)
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, nil
}

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

package main

import (
	"os"
	"runtime/debug"

	"github.com/consentry/consentry/cmd/consentry/cmd"
	"github.com/consentry/consentry/pkg/logger"
)

func main() {
	debug.SetTraceback("all")
	os.Setenv("GOTRACEBACK", "all")

	// Logs go to stderr; stdout belongs to the worker wire protocol and
	// to the human-readable scan summaries.
	logger.Init()

	cmd.Execute()
}

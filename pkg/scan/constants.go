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

import "time"

// These durations are part of the scan contract: verdicts are only
// comparable across runs when every scan uses the same windows.
const (
	// MaxScanTime is the hard wall-clock cap for an entire scan. The
	// supervisor kills the worker process group when it elapses.
	MaxScanTime = 90 * time.Second

	// PageLoadTimeout bounds one page navigation.
	PageLoadTimeout = 15 * time.Second

	// MonitorWindow is how long the monitoring listener stays attached
	// while the product page is scrolled.
	MonitorWindow = 15 * time.Second

	// EarlyInitThreshold separates active tracking from startup noise:
	// a TikTok request later than this after monitoring began is a
	// true violation.
	EarlyInitThreshold = 5 * time.Second

	// ImmediateThreshold marks likely cached script initialization: if
	// every TikTok request lands within it, the verdict stays
	// inconclusive.
	ImmediateThreshold = 2 * time.Second

	// TotalSteps is the number of progress checkpoints a scan reports.
	TotalSteps = 20
)

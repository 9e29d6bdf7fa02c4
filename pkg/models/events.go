package models

// ScanTarget is published on the discovery topic by discovery plugins.
type ScanTarget struct {
	DiscoveryName string `json:"discovery_name"`

	Name      string `json:"name,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	Host string `json:"host"`
	URL  string `json:"url"`
}

// ScanReport is published on the report topic by the audit runner and
// consumed by handle plugins.
type ScanReport struct {
	DiscoveryName string `json:"discovery_name"`
	RunnerName    string `json:"runner_name"`

	Target ScanTarget  `json:"target"`
	Result *ScanResult `json:"result"`
}

// ProgressEvent is a live status update emitted while a scan runs.
type ProgressEvent struct {
	Message    string  `json:"message"`
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	Elapsed    float64 `json:"elapsed"`
}

// BatchSummary totals the verdicts of a sequential batch run.
type BatchSummary struct {
	Total      int  `json:"total"`
	Violations int  `json:"violations"`
	Clean      int  `json:"clean"`
	Stopped    bool `json:"stopped"`
}

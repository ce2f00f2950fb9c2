package domain

import "time"

// Verdict is the Health Monitor's judgement for one poll cycle.
type Verdict string

const (
	VerdictUnknown   Verdict = "unknown"
	VerdictHealthy   Verdict = "healthy"
	VerdictDegraded  Verdict = "degraded"
	VerdictUnhealthy Verdict = "unhealthy"
)

// ProbeResult is the outcome of one HTTP probe against the Prediction Service.
type ProbeResult struct {
	Endpoint   string        `json:"endpoint"`
	OK         bool          `json:"ok"`
	Latency    time.Duration `json:"latency_ns"`
	StatusCode int           `json:"status_code,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
}

// HealthSample records one poll cycle. Pointer fields are only set when the
// status payload reported them.
type HealthSample struct {
	Timestamp time.Time   `json:"timestamp"`
	Verdict   Verdict     `json:"verdict"`
	Reason    string      `json:"reason,omitempty"`
	Liveness  ProbeResult `json:"liveness"`
	Status    ProbeResult `json:"status"`
	// Extra holds the data endpoint probes, in configured order.
	Extra           []ProbeResult `json:"extra,omitempty"`
	ReportedStatus  string        `json:"reported_status,omitempty"`
	ModelLoaded     *bool         `json:"model_loaded,omitempty"`
	DatasetRows     *int          `json:"dataset_rows,omitempty"`
	DatasetAreas    *int          `json:"dataset_areas,omitempty"`
	DatasetModified *time.Time    `json:"dataset_modified,omitempty"`
	MemoryRSSMB     *float64      `json:"memory_rss_mb,omitempty"`
	ServiceUptime   *float64      `json:"service_uptime_s,omitempty"`
}

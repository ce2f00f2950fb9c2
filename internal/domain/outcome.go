package domain

import "time"

// RunStatus is the terminal status of an update run.
type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// Trigger names what started an update run.
type Trigger string

const (
	TriggerStartup  Trigger = "startup"
	TriggerSchedule Trigger = "schedule"
	TriggerOnDemand Trigger = "on_demand"
)

// LocalityFailure records why one locality could not be refreshed.
type LocalityFailure struct {
	Locality string      `json:"locality"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message,omitempty"`
}

// RunOutcome is the queryable record of one update run.
type RunOutcome struct {
	RunID          string            `json:"run_id"`
	Trigger        Trigger           `json:"trigger"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	Status         RunStatus         `json:"status"`
	Localities     int               `json:"localities"`
	Refreshed      []string          `json:"refreshed,omitempty"`
	Failed         []LocalityFailure `json:"failed,omitempty"`
	CarriedForward []string          `json:"carried_forward,omitempty"`
	Uncovered      []string          `json:"uncovered,omitempty"`
	Orphans        int               `json:"orphans"`
	Rows           int               `json:"rows"`
	BackupPath     string            `json:"backup_path,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (o RunOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// FailedLocalities returns the names of the localities that failed to fetch.
func (o RunOutcome) FailedLocalities() []string {
	names := make([]string, 0, len(o.Failed))
	for _, f := range o.Failed {
		names = append(names, f.Locality)
	}
	return names
}

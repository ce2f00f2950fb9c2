package domain

import "errors"

var (
	// ErrSourceUnavailable covers network errors, timeouts, 5xx responses and an open circuit.
	ErrSourceUnavailable = errors.New("forecast source unavailable")
	// ErrSourceDataInvalid covers malformed or incomplete forecast payloads.
	ErrSourceDataInvalid = errors.New("forecast source data invalid")
	// ErrRateLimited is returned when the forecast source answers 429.
	ErrRateLimited = errors.New("forecast source rate limited")
	// ErrOrphanRecord marks a forecast day with no matching locality.
	ErrOrphanRecord = errors.New("orphan forecast record")
	// ErrPublishFailed wraps any backup, write or rename failure during publish.
	ErrPublishFailed = errors.New("publish failed")
	// ErrConcurrentRunRejected is returned when a trigger arrives during a run.
	ErrConcurrentRunRejected = errors.New("refresh run already in progress")
	// ErrNoFreshData is returned when every locality failed to fetch.
	ErrNoFreshData = errors.New("no fresh forecast data collected")
)

// FailureKind is the stable, machine-readable name of an error class.
type FailureKind string

const (
	KindSourceUnavailable     FailureKind = "SourceUnavailable"
	KindSourceDataInvalid     FailureKind = "SourceDataInvalid"
	KindRateLimited           FailureKind = "RateLimited"
	KindOrphanRecord          FailureKind = "OrphanRecord"
	KindPublishFailed         FailureKind = "PublishFailed"
	KindConcurrentRunRejected FailureKind = "ConcurrentRunRejected"
	KindNoFreshData           FailureKind = "NoFreshData"
	KindUnknown               FailureKind = "Unknown"
)

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrSourceDataInvalid):
		return KindSourceDataInvalid
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrOrphanRecord):
		return KindOrphanRecord
	case errors.Is(err, ErrPublishFailed):
		return KindPublishFailed
	case errors.Is(err, ErrConcurrentRunRejected):
		return KindConcurrentRunRejected
	case errors.Is(err, ErrNoFreshData):
		return KindNoFreshData
	default:
		return KindUnknown
	}
}

package domain

import (
	"context"
	"time"
)

// DateLayout is the calendar date format used for forecast days.
const DateLayout = "2006-01-02"

// ForecastHorizonDays is the number of daily records fetched per locality.
const ForecastHorizonDays = 7

// ForecastDay holds one day of forecast values for a locality.
type ForecastDay struct {
	Locality      string  `json:"locality"`
	Date          string  `json:"date"`
	RainfallMM    float64 `json:"rainfall_mm"`
	IntensityMMHr float64 `json:"intensity_mm_hr"`
	RainyDay      int     `json:"rainy_day"`
	RainfallHours float64 `json:"rainfall_hours"`
	Category      string  `json:"category"`
	TempMaxC      float64 `json:"temp_max_c"`
	TempMinC      float64 `json:"temp_min_c"`
}

// MergedRecord is one locality-day row of the shared dataset.
type MergedRecord struct {
	Locality
	ForecastDay
}

// Key identifies a record by locality and date.
func (r MergedRecord) Key() string {
	return r.Locality.Name + "|" + r.ForecastDay.Date
}

// PublishReceipt describes a completed publish.
type PublishReceipt struct {
	Path        string    `json:"path"`
	BackupPath  string    `json:"backup_path,omitempty"`
	Rows        int       `json:"rows"`
	PublishedAt time.Time `json:"published_at"`
}

// ForecastSource fetches the daily forecast window for one locality.
type ForecastSource interface {
	Fetch(ctx context.Context, loc Locality) ([]ForecastDay, error)
}

package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Rainfall categories (IMD 24-hour rainfall terminology).
const (
	RainNone           = "none"
	RainVeryLight      = "very_light"
	RainLight          = "light"
	RainModerate       = "moderate"
	RainHeavy          = "heavy"
	RainVeryHeavy      = "very_heavy"
	RainExtremelyHeavy = "extremely_heavy"
)

// NormalizeForecastDay fills the derived fields of a fetched day: the rainy-day
// flag and the rainfall category. Rainfall values are rounded to 0.1 mm to
// match the source resolution.
func NormalizeForecastDay(day ForecastDay) ForecastDay {
	day.RainfallMM = roundTenth(day.RainfallMM)
	day.IntensityMMHr = roundTenth(day.IntensityMMHr)
	day.RainyDay = 0
	if day.RainfallMM > 0 {
		day.RainyDay = 1
	}
	day.Category = ClassifyRainfall(day.RainfallMM)
	return day
}

// ClassifyRainfall maps a daily rainfall total in millimetres to its IMD category.
func ClassifyRainfall(mm float64) string {
	switch {
	case mm <= 0:
		return RainNone
	case mm < 2.5:
		return RainVeryLight
	case mm < 15.6:
		return RainLight
	case mm < 64.5:
		return RainModerate
	case mm < 115.6:
		return RainHeavy
	case mm < 204.5:
		return RainVeryHeavy
	default:
		return RainExtremelyHeavy
	}
}

// ValidateForecastDays checks that days form exactly one forecast window:
// ForecastHorizonDays consecutive, unique dates with non-negative rainfall.
func ValidateForecastDays(days []ForecastDay) error {
	if len(days) != ForecastHorizonDays {
		return fmt.Errorf("%w: expected %d days, got %d", ErrSourceDataInvalid, ForecastHorizonDays, len(days))
	}
	var prev time.Time
	for i, d := range days {
		date, err := time.Parse(DateLayout, d.Date)
		if err != nil {
			return fmt.Errorf("%w: bad date %q", ErrSourceDataInvalid, d.Date)
		}
		if i > 0 && !date.Equal(prev.AddDate(0, 0, 1)) {
			return fmt.Errorf("%w: dates not consecutive at %s", ErrSourceDataInvalid, d.Date)
		}
		if d.RainfallMM < 0 || math.IsNaN(d.RainfallMM) || d.IntensityMMHr < 0 {
			return fmt.Errorf("%w: negative rainfall on %s", ErrSourceDataInvalid, d.Date)
		}
		prev = date
	}
	return nil
}

// ValidateForecastWindow applies ValidateForecastDays and requires the
// window to start on today, a local date in DateLayout.
func ValidateForecastWindow(days []ForecastDay, today string) error {
	if err := ValidateForecastDays(days); err != nil {
		return err
	}
	if days[0].Date != today {
		return fmt.Errorf("%w: window starts %s, want %s", ErrSourceDataInvalid, days[0].Date, today)
	}
	return nil
}

// Merge joins a forecast day with its locality's static attributes.
func Merge(loc Locality, day ForecastDay) MergedRecord {
	day.Locality = loc.Name
	return MergedRecord{Locality: loc, ForecastDay: day}
}

// ParseFloatOrZero parses a string as float64, returning 0 on failure.
func ParseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatFloat renders a float with the shortest exact representation.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}

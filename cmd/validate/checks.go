package main

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func validate(localities []domain.Locality, records []domain.MergedRecord, allowUncovered bool) []*phase {
	byName := make(map[string]domain.Locality, len(localities))
	for _, l := range localities {
		byName[l.Name] = l
	}
	return []*phase{
		validateKeys(records),
		validateCoverage(localities, records, allowUncovered),
		validateAttributes(byName, records),
		validateValues(records),
	}
}

func validateKeys(records []domain.MergedRecord) *phase {
	p := &phase{name: "Unique locality-date keys"}
	seen := make(map[string]int, len(records))
	for i, r := range records {
		if first, dup := seen[r.Key()]; dup {
			p.errorf("row %d duplicates row %d (%s)", i+2, first+2, r.Key())
			continue
		}
		seen[r.Key()] = i
	}
	return p
}

func validateCoverage(localities []domain.Locality, records []domain.MergedRecord, allowUncovered bool) *phase {
	p := &phase{name: "Seven-day window per locality"}
	dates := make(map[string][]string)
	for _, r := range records {
		dates[r.Locality.Name] = append(dates[r.Locality.Name], r.ForecastDay.Date)
	}
	for _, l := range localities {
		ds, ok := dates[l.Name]
		if !ok {
			if !allowUncovered {
				p.errorf("%s: no rows", l.Name)
			}
			continue
		}
		ds = slices.Clone(ds)
		slices.Sort(ds)
		ds = slices.Compact(ds)
		if len(ds) != domain.ForecastHorizonDays {
			p.errorf("%s: %d distinct dates, want %d", l.Name, len(ds), domain.ForecastHorizonDays)
			continue
		}
		if err := consecutive(ds); err != nil {
			p.errorf("%s: %v", l.Name, err)
		}
	}
	return p
}

func consecutive(dates []string) error {
	var prev time.Time
	for i, s := range dates {
		d, err := time.Parse(domain.DateLayout, s)
		if err != nil {
			return fmt.Errorf("bad date %q", s)
		}
		if i > 0 && !d.Equal(prev.AddDate(0, 0, 1)) {
			return fmt.Errorf("gap before %s", s)
		}
		prev = d
	}
	return nil
}

func validateAttributes(byName map[string]domain.Locality, records []domain.MergedRecord) *phase {
	p := &phase{name: "Static attributes match store"}
	for i, r := range records {
		want, ok := byName[r.Locality.Name]
		if !ok {
			p.errorf("row %d: unknown locality %q", i+2, r.Locality.Name)
			continue
		}
		if !sameFloat(want.Latitude, r.Latitude) || !sameFloat(want.Longitude, r.Longitude) {
			p.errorf("row %d: %s coordinates %v,%v differ from store %v,%v",
				i+2, r.Locality.Name, r.Latitude, r.Longitude, want.Latitude, want.Longitude)
		}
		if want.WardCode != r.WardCode {
			p.errorf("row %d: %s ward %q differs from store %q", i+2, r.Locality.Name, r.WardCode, want.WardCode)
		}
	}
	return p
}

func validateValues(records []domain.MergedRecord) *phase {
	p := &phase{name: "Rainfall values consistent"}
	for i, r := range records {
		row := i + 2
		if r.RainfallMM < 0 || r.IntensityMMHr < 0 || r.RainfallHours < 0 {
			p.errorf("row %d (%s): negative rainfall value", row, r.Key())
		}
		if r.RainfallHours > 24 {
			p.errorf("row %d (%s): %v rainfall hours", row, r.Key(), r.RainfallHours)
		}
		wantRainy := 0
		if r.RainfallMM > 0 {
			wantRainy = 1
		}
		if r.RainyDay != wantRainy {
			p.errorf("row %d (%s): rainy-day flag %d for %v mm", row, r.Key(), r.RainyDay, r.RainfallMM)
		}
		if want := domain.ClassifyRainfall(r.RainfallMM); r.Category != want {
			p.errorf("row %d (%s): category %q, want %q", row, r.Key(), r.Category, want)
		}
		if r.TempMaxC < r.TempMinC {
			p.errorf("row %d (%s): max temperature below min", row, r.Key())
		}
	}
	return p
}

func sameFloat(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

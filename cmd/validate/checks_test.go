package main

import (
	"testing"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var colaba = domain.Locality{Name: "Colaba", WardCode: "A", Latitude: 18.9067, Longitude: 72.8147}

// window returns a consistent seven-day window starting 2025-07-01.
func window(loc domain.Locality) []domain.MergedRecord {
	dates := []string{"2025-07-01", "2025-07-02", "2025-07-03", "2025-07-04", "2025-07-05", "2025-07-06", "2025-07-07"}
	out := make([]domain.MergedRecord, 0, len(dates))
	for i, d := range dates {
		day := domain.NormalizeForecastDay(domain.ForecastDay{
			Date: d, RainfallMM: float64(i) * 20, RainfallHours: float64(i), TempMaxC: 31, TempMinC: 26,
		})
		out = append(out, domain.Merge(loc, day))
	}
	return out
}

func failed(phases []*phase) map[string][]string {
	out := map[string][]string{}
	for _, p := range phases {
		if !p.passed() {
			out[p.name] = p.errors
		}
	}
	return out
}

func TestValidate_CleanDataset(t *testing.T) {
	phases := validate([]domain.Locality{colaba}, window(colaba), false)
	require.Len(t, phases, 4)
	assert.Empty(t, failed(phases))
}

func TestValidate_DuplicateAndMissingDay(t *testing.T) {
	records := window(colaba)
	records[6] = records[5]

	got := failed(validate([]domain.Locality{colaba}, records, false))
	assert.Contains(t, got, "Unique locality-date keys")
	assert.Contains(t, got, "Seven-day window per locality")
}

func TestValidate_Uncovered(t *testing.T) {
	fort := domain.Locality{Name: "Fort", WardCode: "A", Latitude: 18.934, Longitude: 72.8346}
	locs := []domain.Locality{colaba, fort}

	got := failed(validate(locs, window(colaba), false))
	assert.Equal(t, []string{"Fort: no rows"}, got["Seven-day window per locality"])

	assert.Empty(t, failed(validate(locs, window(colaba), true)))
}

func TestValidate_AttributeDrift(t *testing.T) {
	records := window(colaba)
	records[0].Latitude = 19.5
	records[1].Locality.Name = "Atlantis"

	got := failed(validate([]domain.Locality{colaba}, records, false))
	require.Contains(t, got, "Static attributes match store")
	assert.Len(t, got["Static attributes match store"], 2)
}

func TestValidate_InconsistentRainfall(t *testing.T) {
	records := window(colaba)
	records[2].Category = domain.RainNone
	records[3].RainyDay = 0
	records[4].TempMaxC = 10

	got := failed(validate([]domain.Locality{colaba}, records, false))
	assert.Len(t, got["Rainfall values consistent"], 3)
}

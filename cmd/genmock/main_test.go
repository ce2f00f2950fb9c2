package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesize(t *testing.T) {
	first := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	records := synthesize(sampleLocalities, first, rand.New(rand.NewPCG(1, 1)))

	require.Len(t, records, len(sampleLocalities)*domain.ForecastHorizonDays)
	for i := 0; i < len(records); i += domain.ForecastHorizonDays {
		days := make([]domain.ForecastDay, 0, domain.ForecastHorizonDays)
		for _, r := range records[i : i+domain.ForecastHorizonDays] {
			days = append(days, r.ForecastDay)
			assert.Equal(t, domain.ClassifyRainfall(r.RainfallMM), r.Category)
			assert.LessOrEqual(t, r.RainfallHours, 24.0)
		}
		assert.NoError(t, domain.ValidateForecastDays(days), records[i].Locality.Name)
	}
	assert.Equal(t, "2025-07-07", records[6].Date)
}

func TestSynthesize_Deterministic(t *testing.T) {
	first := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a := synthesize(sampleLocalities, first, rand.New(rand.NewPCG(7, 7)))
	b := synthesize(sampleLocalities, first, rand.New(rand.NewPCG(7, 7)))
	assert.Equal(t, a, b)
}

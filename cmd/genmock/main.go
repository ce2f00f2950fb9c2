// Command genmock writes fixture data for local runs and tests: a locality
// reference CSV for five ward A areas of south Mumbai and, optionally, a
// synthetic seven-day forecast dataset built with the same normalization the
// refresher applies to fetched days.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -localities-out data/mumbai_static_areas_unique.csv \
//	  -dataset-out data/mumbai_regions_7day_forecast.csv \
//	  -start 2025-07-01 -seed 42
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/flood-forecast-refresh/internal/adapter/localitystore"
	"github.com/couchcryptid/flood-forecast-refresh/internal/dataset"
	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// sampleLocalities are the five ward A areas used when no reference store
// is available.
var sampleLocalities = []domain.Locality{
	{WardCode: "A", Name: "Colaba", Latitude: 18.9067, Longitude: 72.8147, NearestStation: "Colaba", Elevation: 6, LandUse: "Residential", Population: 64000, RoadDensityM: 11200, DistanceToWaterM: 120, SoilType: "Coastal alluvium", BuiltUpPct: 78, TrueNearestDistanceM: 540},
	{WardCode: "A", Name: "Cuffe Parade", Latitude: 18.9156, Longitude: 72.8173, NearestStation: "Colaba", Elevation: 4, LandUse: "Residential", Population: 48000, RoadDensityM: 9800, DistanceToWaterM: 80, SoilType: "Reclaimed fill", BuiltUpPct: 85, TrueNearestDistanceM: 1020},
	{WardCode: "A", Name: "CST", Latitude: 18.9402, Longitude: 72.8359, NearestStation: "Colaba", Elevation: 9, LandUse: "Commercial", Population: 31000, RoadDensityM: 14600, DistanceToWaterM: 610, SoilType: "Reclaimed fill", BuiltUpPct: 92, TrueNearestDistanceM: 3790},
	{WardCode: "A", Name: "Churchgate", Latitude: 18.9322, Longitude: 72.8264, NearestStation: "Colaba", Elevation: 7, LandUse: "Commercial", Population: 27000, RoadDensityM: 13900, DistanceToWaterM: 260, SoilType: "Reclaimed fill", BuiltUpPct: 90, TrueNearestDistanceM: 2880},
	{WardCode: "A", Name: "Fort", Latitude: 18.934, Longitude: 72.8346, NearestStation: "Colaba", Elevation: 8, LandUse: "Commercial", Population: 35000, RoadDensityM: 15100, DistanceToWaterM: 430, SoilType: "Reclaimed fill", BuiltUpPct: 94, TrueNearestDistanceM: 3300},
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	localitiesOut := flag.String("localities-out", "", "output path for the locality reference CSV")
	datasetOut := flag.String("dataset-out", "", "output path for a synthetic forecast dataset (optional)")
	start := flag.String("start", time.Now().Format(domain.DateLayout), "first forecast date (YYYY-MM-DD)")
	seed := flag.Uint64("seed", 42, "random seed for synthetic rainfall")
	flag.Parse()

	if *localitiesOut == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -localities-out")
	}

	if err := writeLocalities(*localitiesOut); err != nil {
		return fmt.Errorf("writing localities: %w", err)
	}
	log.Printf("wrote %d localities: %s", len(sampleLocalities), *localitiesOut)

	if *datasetOut == "" {
		return nil
	}
	first, err := time.Parse(domain.DateLayout, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	records := synthesize(sampleLocalities, first, rand.New(rand.NewPCG(*seed, *seed)))
	if err := writeDataset(*datasetOut, records); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}
	log.Printf("wrote %d dataset rows: %s", len(records), *datasetOut)
	printStats(records)
	return nil
}

// synthesize builds one monsoon-like seven-day window per locality. Areas
// share a daily weather pattern with local jitter.
func synthesize(locs []domain.Locality, first time.Time, rng *rand.Rand) []domain.MergedRecord {
	base := make([]float64, domain.ForecastHorizonDays)
	for i := range base {
		// Mostly light days with the occasional heavy spell.
		base[i] = math.Max(0, rng.NormFloat64()*25+15)
		if rng.Float64() < 0.15 {
			base[i] += 80 + rng.Float64()*60
		}
	}

	out := make([]domain.MergedRecord, 0, len(locs)*domain.ForecastHorizonDays)
	for _, loc := range locs {
		for i, b := range base {
			mm := math.Max(0, b*(0.8+rng.Float64()*0.4))
			hours := 0.0
			intensity := 0.0
			if mm > 0 {
				hours = math.Min(24, math.Ceil(mm/6))
				intensity = mm / hours * (1 + rng.Float64())
			}
			day := domain.NormalizeForecastDay(domain.ForecastDay{
				Date:          first.AddDate(0, 0, i).Format(domain.DateLayout),
				RainfallMM:    mm,
				IntensityMMHr: intensity,
				RainfallHours: hours,
				TempMaxC:      math.Round((29+rng.Float64()*3)*10) / 10,
				TempMinC:      math.Round((24+rng.Float64()*2)*10) / 10,
			})
			out = append(out, domain.Merge(loc, day))
		}
	}
	return out
}

func writeLocalities(path string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	if err := localitystore.Write(f, sampleLocalities); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeDataset(path string, records []domain.MergedRecord) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	if err := dataset.Encode(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func printStats(records []domain.MergedRecord) {
	categories := map[string]int{}
	var total float64
	for _, r := range records {
		categories[r.Category]++
		total += r.RainfallMM
	}
	fmt.Printf("\n%-18s %s\n", "Category", "Rows")
	for _, c := range []string{
		domain.RainNone, domain.RainVeryLight, domain.RainLight, domain.RainModerate,
		domain.RainHeavy, domain.RainVeryHeavy, domain.RainExtremelyHeavy,
	} {
		if n := categories[c]; n > 0 {
			fmt.Printf("%-18s %d\n", c, n)
		}
	}
	if len(records) > 0 {
		fmt.Printf("\nMean rainfall: %.1f mm/day\n", total/float64(len(records)))
	}
}

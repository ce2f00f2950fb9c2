// Command validate checks the integrity of a published forecast dataset
// against the locality reference store: one seven-day window per locality,
// unique locality-date keys, static attributes matching the store, and
// derived rainfall fields consistent with the rainfall total.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -localities data/mumbai_static_areas_unique.csv \
//	  -dataset data/mumbai_regions_7day_forecast.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/couchcryptid/flood-forecast-refresh/internal/adapter/localitystore"
	"github.com/couchcryptid/flood-forecast-refresh/internal/dataset"
)

func main() {
	localitiesPath := flag.String("localities", "data/mumbai_static_areas_unique.csv", "locality reference CSV")
	datasetPath := flag.String("dataset", "data/mumbai_regions_7day_forecast.csv", "published forecast dataset CSV")
	allowUncovered := flag.Bool("allow-uncovered", false, "do not fail when a locality has no rows")
	flag.Parse()

	os.Exit(run(*localitiesPath, *datasetPath, *allowUncovered))
}

func run(localitiesPath, datasetPath string, allowUncovered bool) int {
	fmt.Println("=== Flood Forecast Dataset Validation ===")
	fmt.Println()

	localities, err := localitystore.New(localitiesPath).Load(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load localities: %v\n", err)
		return 1
	}

	f, err := os.Open(datasetPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open dataset: %v\n", err)
		return 1
	}
	records, err := dataset.Decode(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: decode dataset: %v\n", err)
		return 1
	}

	phases := validate(localities, records, allowUncovered)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-36s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d localities, %d dataset rows\n", len(localities), len(records))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

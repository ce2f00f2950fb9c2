package pipeline

import (
	"sort"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// FetchResult is the outcome of fetching one locality's forecast window.
type FetchResult struct {
	Locality string
	Days     []domain.ForecastDay
	Err      error
}

// MergeResult is the dataset produced by Merge plus what happened to each
// locality.
type MergeResult struct {
	Records        []domain.MergedRecord
	Refreshed      []string
	CarriedForward []string
	Uncovered      []string
	Orphans        []string // "<locality>|<date>" of every dropped day
}

// Merge joins fetched forecast days with their localities.
//
// Output is ordered by the localities slice, then by date, regardless of the
// order results arrive in. A day is an orphan, and dropped, when its
// Locality is not the key it was returned under, when that key names no
// locality, or when it repeats a date already seen for that locality.
// Localities without usable fresh days keep their rows from previous
// unchanged; with no previous rows they are Uncovered. Previous rows of
// localities no longer listed are dropped.
func Merge(localities []domain.Locality, results map[string]FetchResult, previous []domain.MergedRecord) MergeResult {
	var out MergeResult

	known := make(map[string]bool, len(localities))
	for _, loc := range localities {
		known[loc.Name] = true
	}

	prevByName := make(map[string][]domain.MergedRecord)
	for _, r := range previous {
		if known[r.Locality.Name] {
			prevByName[r.Locality.Name] = append(prevByName[r.Locality.Name], r)
		}
	}

	for name, res := range results {
		if known[name] {
			continue
		}
		for _, d := range res.Days {
			out.Orphans = append(out.Orphans, d.Locality+"|"+d.Date)
		}
	}

	for _, loc := range localities {
		fresh, orphans := freshRecords(loc, results[loc.Name])
		out.Orphans = append(out.Orphans, orphans...)

		if len(fresh) > 0 {
			out.Records = append(out.Records, fresh...)
			out.Refreshed = append(out.Refreshed, loc.Name)
			continue
		}

		prev := prevByName[loc.Name]
		if len(prev) == 0 {
			out.Uncovered = append(out.Uncovered, loc.Name)
			continue
		}
		sortByDate(prev)
		out.Records = append(out.Records, prev...)
		out.CarriedForward = append(out.CarriedForward, loc.Name)
	}

	sort.Strings(out.Orphans)
	return out
}

func freshRecords(loc domain.Locality, res FetchResult) (fresh []domain.MergedRecord, orphans []string) {
	if res.Err != nil {
		return nil, nil
	}
	seen := make(map[string]bool, len(res.Days))
	for _, d := range res.Days {
		if d.Locality != loc.Name || seen[d.Date] {
			orphans = append(orphans, d.Locality+"|"+d.Date)
			continue
		}
		seen[d.Date] = true
		fresh = append(fresh, domain.Merge(loc, d))
	}
	sortByDate(fresh)
	return fresh, orphans
}

func sortByDate(records []domain.MergedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date < records[j].Date
	})
}

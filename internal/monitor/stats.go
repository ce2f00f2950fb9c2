package monitor

import (
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// EndpointStats aggregates the probes of one endpoint. Percentiles cover
// successful probes only.
type EndpointStats struct {
	Endpoint    string        `json:"endpoint"`
	Probes      int           `json:"probes"`
	Successes   int           `json:"successes"`
	SuccessRate float64       `json:"success_rate"`
	P50         time.Duration `json:"p50_ns"`
	P95         time.Duration `json:"p95_ns"`
}

// Summary describes the retained history window.
type Summary struct {
	Samples  int                    `json:"samples"`
	From     time.Time              `json:"from,omitzero"`
	To       time.Time              `json:"to,omitzero"`
	Current  domain.Verdict         `json:"current"`
	Verdicts map[domain.Verdict]int `json:"verdicts"`
	Liveness EndpointStats          `json:"liveness"`
	Status   EndpointStats          `json:"status"`
	Extra    []EndpointStats        `json:"extra,omitempty"`
}

// Summarize computes verdict counts and per-endpoint statistics for samples,
// which must be ordered oldest first.
func Summarize(samples []domain.HealthSample) Summary {
	s := Summary{
		Samples:  len(samples),
		Current:  domain.VerdictUnknown,
		Verdicts: make(map[domain.Verdict]int),
	}
	if len(samples) == 0 {
		return s
	}
	s.From = samples[0].Timestamp
	s.To = samples[len(samples)-1].Timestamp
	s.Current = samples[len(samples)-1].Verdict

	live := make([]domain.ProbeResult, 0, len(samples))
	status := make([]domain.ProbeResult, 0, len(samples))
	var (
		order []string
		extra = make(map[string][]domain.ProbeResult)
	)
	for _, sample := range samples {
		s.Verdicts[sample.Verdict]++
		live = append(live, sample.Liveness)
		status = append(status, sample.Status)
		for _, p := range sample.Extra {
			if _, ok := extra[p.Endpoint]; !ok {
				order = append(order, p.Endpoint)
			}
			extra[p.Endpoint] = append(extra[p.Endpoint], p)
		}
	}
	s.Liveness = endpointStats(live)
	s.Status = endpointStats(status)
	for _, endpoint := range order {
		s.Extra = append(s.Extra, endpointStats(extra[endpoint]))
	}
	return s
}

func endpointStats(probes []domain.ProbeResult) EndpointStats {
	st := EndpointStats{Probes: len(probes)}
	var latencies []time.Duration
	for _, p := range probes {
		if st.Endpoint == "" {
			st.Endpoint = p.Endpoint
		}
		if p.OK {
			st.Successes++
			latencies = append(latencies, p.Latency)
		}
	}
	if st.Probes > 0 {
		st.SuccessRate = float64(st.Successes) / float64(st.Probes)
	}
	slices.Sort(latencies)
	st.P50 = percentile(latencies, 50)
	st.P95 = percentile(latencies, 95)
	return st
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

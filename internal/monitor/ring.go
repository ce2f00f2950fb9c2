package monitor

import (
	"time"

	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
)

// Ring is a fixed-capacity buffer of health samples, oldest evicted first.
// With a positive maxAge, samples older than maxAge relative to the newest
// are evicted too. Ring is not safe for concurrent use.
type Ring struct {
	buf    []domain.HealthSample
	start  int
	n      int
	maxAge time.Duration
}

// NewRing creates a ring holding at most capacity samples.
func NewRing(capacity int, maxAge time.Duration) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]domain.HealthSample, capacity), maxAge: maxAge}
}

// Push appends s, evicting the oldest sample when full.
func (r *Ring) Push(s domain.HealthSample) {
	if r.n == len(r.buf) {
		r.buf[r.start] = domain.HealthSample{}
		r.start = (r.start + 1) % len(r.buf)
		r.n--
	}
	r.buf[(r.start+r.n)%len(r.buf)] = s
	r.n++
	r.Prune(s.Timestamp)
}

// Prune evicts samples older than maxAge as of now.
func (r *Ring) Prune(now time.Time) {
	if r.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-r.maxAge)
	for r.n > 0 && r.buf[r.start].Timestamp.Before(cutoff) {
		r.buf[r.start] = domain.HealthSample{}
		r.start = (r.start + 1) % len(r.buf)
		r.n--
	}
}

// Len returns the number of samples held.
func (r *Ring) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Latest returns the newest sample.
func (r *Ring) Latest() (domain.HealthSample, bool) {
	if r.n == 0 {
		return domain.HealthSample{}, false
	}
	return r.buf[(r.start+r.n-1)%len(r.buf)], true
}

// Snapshot copies the samples, oldest first.
func (r *Ring) Snapshot() []domain.HealthSample {
	out := make([]domain.HealthSample, r.n)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

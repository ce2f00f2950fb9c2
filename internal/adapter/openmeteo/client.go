// Package openmeteo fetches daily forecast windows from the Open-Meteo API.
package openmeteo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/flood-forecast-refresh/internal/config"
	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	"github.com/couchcryptid/flood-forecast-refresh/internal/observability"
)

const (
	dailyVars  = "precipitation_sum,precipitation_hours,temperature_2m_max,temperature_2m_min"
	hourlyVars = "precipitation"

	// maxErrorBody caps how much of an error response is kept for the message.
	maxErrorBody = 512
)

// RetryPolicy bounds retries of RateLimited and SourceUnavailable failures.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// Client implements domain.ForecastSource against the Open-Meteo forecast API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timezone   string
	loc        *time.Location
	timeout    time.Duration
	retry      RetryPolicy
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	clock      clockwork.Clock
	metrics    *observability.RefreshMetrics
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock sets the clock used for retry backoff and for the local date a
// window must start on.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithRetryPolicy overrides the retry bounds.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithMetrics records request durations.
func WithMetrics(m *observability.RefreshMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBreakerThreshold sets how many consecutive upstream failures open the
// circuit, and how long it stays open.
func WithBreakerThreshold(failures uint32, openFor time.Duration) Option {
	return func(c *Client) { c.breaker = newBreaker(failures, openFor, c.logger) }
}

// NewClient creates a forecast client. Dates are requested in timezone.
func NewClient(cfg config.ForecastConfig, timezone string, logger *slog.Logger, opts ...Option) *Client {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		logger.Warn("unknown forecast timezone, using UTC", "timezone", timezone, "error", err)
		loc = time.UTC
	}
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		timezone:   timezone,
		loc:        loc,
		timeout:    cfg.Timeout,
		retry: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			MinWait:    500 * time.Millisecond,
			MaxWait:    10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
	failures, openFor := cfg.BreakerFailures, cfg.BreakerOpenFor
	if failures == 0 {
		failures = 5
	}
	if openFor <= 0 {
		openFor = time.Minute
	}
	c.breaker = newBreaker(failures, openFor, logger)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(failures uint32, openFor time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "open-meteo",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Only upstream trouble counts against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Fetch returns the ForecastHorizonDays-day window for loc, starting today.
func (c *Client) Fetch(ctx context.Context, loc domain.Locality) ([]domain.ForecastDay, error) {
	u := c.requestURL(loc)

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt - 1)
			c.logger.Debug("retrying forecast request", "locality", loc.Name, "attempt", attempt, "wait", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, ctx.Err())
			case <-c.clock.After(wait):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrSourceUnavailable, err)
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.get(ctx, u)
		})
		if err == nil {
			return decode(body, loc.Name, c.today())
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) today() string {
	return c.clock.Now().In(c.loc).Format(domain.DateLayout)
}

func (c *Client) requestURL(loc domain.Locality) string {
	params := url.Values{
		"latitude":      {strconv.FormatFloat(loc.Latitude, 'f', 4, 64)},
		"longitude":     {strconv.FormatFloat(loc.Longitude, 'f', 4, 64)},
		"daily":         {dailyVars},
		"hourly":        {hourlyVars},
		"forecast_days": {strconv.Itoa(domain.ForecastHorizonDays)},
		"timezone":      {c.timezone},
	}
	return c.baseURL + "?" + params.Encode()
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.FetchDuration.Observe(c.clock.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, snippet)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrSourceUnavailable, err)
	}
	return body, nil
}

func statusError(code int, body []byte) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, code)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: status %d: %s", domain.ErrSourceDataInvalid, code, body)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrSourceUnavailable, code, body)
	}
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrSourceUnavailable)
}

// backoff doubles MinWait per attempt, capped at MaxWait.
func (c *Client) backoff(attempt int) time.Duration {
	wait := c.retry.MinWait << attempt
	if c.retry.MaxWait > 0 && (wait > c.retry.MaxWait || wait < c.retry.MinWait) {
		wait = c.retry.MaxWait
	}
	return wait
}

// Open-Meteo response types.

type response struct {
	Daily  daily  `json:"daily"`
	Hourly hourly `json:"hourly"`
}

type daily struct {
	Time               []string   `json:"time"`
	PrecipitationSum   []*float64 `json:"precipitation_sum"`
	PrecipitationHours []*float64 `json:"precipitation_hours"`
	TemperatureMax     []*float64 `json:"temperature_2m_max"`
	TemperatureMin     []*float64 `json:"temperature_2m_min"`
}

type hourly struct {
	Time          []string   `json:"time"`
	Precipitation []*float64 `json:"precipitation"`
}

// decode parses and validates a response. The window must start on today,
// the local date in the requested timezone.
func decode(body []byte, locality, today string) ([]domain.ForecastDay, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrSourceDataInvalid, err)
	}

	n := len(r.Daily.Time)
	if n == 0 {
		return nil, fmt.Errorf("%w: missing daily series", domain.ErrSourceDataInvalid)
	}
	for name, series := range map[string][]*float64{
		"precipitation_sum":   r.Daily.PrecipitationSum,
		"precipitation_hours": r.Daily.PrecipitationHours,
		"temperature_2m_max":  r.Daily.TemperatureMax,
		"temperature_2m_min":  r.Daily.TemperatureMin,
	} {
		if len(series) != n {
			return nil, fmt.Errorf("%w: %s has %d values for %d days", domain.ErrSourceDataInvalid, name, len(series), n)
		}
	}
	if len(r.Hourly.Time) != len(r.Hourly.Precipitation) {
		return nil, fmt.Errorf("%w: hourly series length mismatch", domain.ErrSourceDataInvalid)
	}

	peak := hourlyPeaks(r.Hourly)
	days := make([]domain.ForecastDay, 0, n)
	for i, date := range r.Daily.Time {
		if r.Daily.PrecipitationSum[i] == nil {
			return nil, fmt.Errorf("%w: no precipitation_sum for %s", domain.ErrSourceDataInvalid, date)
		}
		days = append(days, domain.NormalizeForecastDay(domain.ForecastDay{
			Locality:      locality,
			Date:          date,
			RainfallMM:    *r.Daily.PrecipitationSum[i],
			IntensityMMHr: peak[date],
			RainfallHours: value(r.Daily.PrecipitationHours[i]),
			TempMaxC:      value(r.Daily.TemperatureMax[i]),
			TempMinC:      value(r.Daily.TemperatureMin[i]),
		}))
	}

	if err := domain.ValidateForecastWindow(days, today); err != nil {
		return nil, err
	}
	return days, nil
}

// hourlyPeaks returns the maximum hourly precipitation per local date.
func hourlyPeaks(h hourly) map[string]float64 {
	peaks := make(map[string]float64)
	for i, ts := range h.Time {
		if len(ts) < len(domain.DateLayout) || h.Precipitation[i] == nil {
			continue
		}
		date := ts[:len(domain.DateLayout)]
		if v := *h.Precipitation[i]; v > peaks[date] {
			peaks[date] = v
		}
	}
	return peaks
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

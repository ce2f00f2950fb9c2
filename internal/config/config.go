package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve on minimal images

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Config holds all service settings, populated from environment variables.
// Both binaries load the same Config and read the sections they need.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`

	Refresh  RefreshConfig
	Forecast ForecastConfig
	Kafka    KafkaConfig
	Monitor  MonitorConfig
}

// RefreshConfig configures the update pipeline and its schedule.
type RefreshConfig struct {
	LocalitiesPath string `envconfig:"LOCALITIES_PATH" default:"data/mumbai_static_areas_unique.csv" validate:"required"`
	DatasetPath    string `envconfig:"DATASET_PATH" default:"data/mumbai_regions_7day_forecast.csv" validate:"required"`
	BackupDir      string `envconfig:"BACKUP_DIR" default:"data/backups" validate:"required"`

	// UpdateTime is the daily HH:MM firing time. UpdateSchedule, when set,
	// is a standard 5-field cron expression and takes precedence.
	UpdateTime     string `envconfig:"UPDATE_TIME" default:"00:00"`
	UpdateSchedule string `envconfig:"UPDATE_SCHEDULE"`
	Timezone       string `envconfig:"TIMEZONE" default:"Asia/Kolkata"`
	RunOnStart     bool   `envconfig:"RUN_ON_START" default:"true"`

	FetchConcurrency     int    `envconfig:"FETCH_CONCURRENCY" default:"4" validate:"gte=1,lte=64"`
	PublishRenameRetries int    `envconfig:"PUBLISH_RENAME_RETRIES" default:"3" validate:"gte=0,lte=10"`
	RunLogPath           string `envconfig:"RUN_LOG_PATH"`
}

// ForecastConfig configures the outbound forecast source client.
type ForecastConfig struct {
	BaseURL         string        `envconfig:"FORECAST_BASE_URL" default:"https://api.open-meteo.com/v1/forecast" validate:"required,url"`
	Timeout         time.Duration `envconfig:"FORECAST_TIMEOUT" default:"20s" validate:"gt=0"`
	MaxRetries      int           `envconfig:"FORECAST_MAX_RETRIES" default:"2" validate:"gte=0,lte=10"`
	RateLimit       float64       `envconfig:"FORECAST_RATE_LIMIT" default:"1" validate:"gt=0"`
	CacheSize       int           `envconfig:"FORECAST_CACHE_SIZE" default:"0" validate:"gte=0"`
	BreakerFailures uint32        `envconfig:"FORECAST_BREAKER_FAILURES" default:"5" validate:"gte=1"`
	BreakerOpenFor  time.Duration `envconfig:"FORECAST_BREAKER_OPEN_FOR" default:"1m" validate:"gt=0"`
}

// KafkaConfig enables publishing run outcomes when Brokers is non-empty.
type KafkaConfig struct {
	Brokers   []string `envconfig:"KAFKA_BROKERS"`
	RunsTopic string   `envconfig:"KAFKA_RUNS_TOPIC" default:"flood-refresh-runs"`
}

// Enabled reports whether outcome publishing to Kafka is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// MonitorConfig configures the Health Monitor service.
type MonitorConfig struct {
	HTTPAddr         string        `envconfig:"MONITOR_HTTP_ADDR" default:":8081"`
	TargetURL        string        `envconfig:"PREDICTION_API_URL" default:"http://localhost:8082" validate:"required,url"`
	LivenessPath     string        `envconfig:"LIVENESS_PATH" default:"/ping" validate:"startswith=/"`
	StatusPath       string        `envconfig:"STATUS_PATH" default:"/health" validate:"startswith=/"`
	Interval         time.Duration `envconfig:"MONITOR_INTERVAL" default:"60s" validate:"gt=0"`
	ProbeTimeout     time.Duration `envconfig:"MONITOR_PROBE_TIMEOUT" default:"5s" validate:"gt=0"`
	LatencyBudget    time.Duration `envconfig:"MONITOR_LATENCY_BUDGET" default:"1s" validate:"gt=0"`
	HistorySize      int           `envconfig:"MONITOR_HISTORY_SIZE" default:"1000" validate:"gte=1"`
	HistoryMaxAge    time.Duration `envconfig:"MONITOR_HISTORY_MAX_AGE" default:"24h" validate:"gte=0"`
	MaxDataAge       time.Duration `envconfig:"MONITOR_MAX_DATA_AGE" default:"36h" validate:"gte=0"`
	FailureThreshold int           `envconfig:"MONITOR_FAILURE_THRESHOLD" default:"1" validate:"gte=1"`
	ExportDir        string        `envconfig:"MONITOR_EXPORT_DIR" default:"exports"`
	// ExtraPaths are probed alongside liveness; a failure degrades the verdict.
	ExtraPaths []string `envconfig:"MONITOR_EXTRA_PATHS" default:"/areas,/dates,/predict?area=Colaba" validate:"dive,startswith=/"`
}

var hhmmRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// Load reads configuration from the environment (and a .env file if present),
// applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Refresh.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Refresh.Timezone, err)
	}
	if _, err := cfg.Refresh.Schedule(); err != nil {
		return nil, err
	}
	if cfg.Kafka.Enabled() && cfg.Kafka.RunsTopic == "" {
		return nil, errors.New("KAFKA_RUNS_TOPIC is required when KAFKA_BROKERS is set")
	}

	return &cfg, nil
}

// Location returns the timezone used for forecast dates and the daily schedule.
func (r RefreshConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Schedule parses UpdateSchedule, or builds a daily schedule from UpdateTime.
func (r RefreshConfig) Schedule() (cron.Schedule, error) {
	expr := r.UpdateSchedule
	if expr == "" {
		m := hhmmRe.FindStringSubmatch(r.UpdateTime)
		if m == nil {
			return nil, fmt.Errorf("invalid UPDATE_TIME %q: want HH:MM", r.UpdateTime)
		}
		expr = fmt.Sprintf("%s %s * * *", m[2], m[1])
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid UPDATE_SCHEDULE %q: %w", expr, err)
	}
	return sched, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/pollen-sync/internal/logging"
)

var validate = validator.New()

type AppConfig struct {
	// Coverage window. Start/End take precedence over Days when both are set.
	Cities []string
	Days   int `validate:"gte=0,lte=3660"`
	Start  time.Time
	End    time.Time `validate:"omitempty,gtefield=Start"`

	// Canonical store file.
	StorePath   string `validate:"required"`
	StoreFormat string `validate:"omitempty,oneof=csv excel xlsx"`
	CSVBOM      bool

	// Remote source. SourceName is weatherdt or sample.
	SourceName string `validate:"oneof=weatherdt sample"`
	SourceURL  string `validate:"omitempty,url"`

	// Retry and pacing.
	MaxRetries     int           `validate:"gte=0,lte=20"`
	RetryBaseDelay time.Duration `validate:"gte=0"`
	RetryMaxDelay  time.Duration `validate:"gte=0"`
	RequestDelay   time.Duration `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"gt=0"`
	Workers        int           `validate:"gte=1,lte=16"`

	PlanStrategy string `validate:"oneof=per-date runs"`
	MergeColumns string `validate:"oneof=intersect union"`

	// SyncInterval controls how often serve mode re-runs the sync.
	SyncInterval time.Duration `validate:"gte=0"`
	// SyncTimeout bounds one scheduled or API-triggered sync pass.
	SyncTimeout time.Duration `validate:"gt=0"`
	Port        string        `validate:"required,numeric"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=console json"`
}

// Load reads configuration from environment (and an optional .env file)
// with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		logging.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg := &AppConfig{}

	cfg.Cities = splitList(os.Getenv("POLLEN_CITIES"))
	cfg.Days = getenvInt("POLLEN_DAYS", 30)

	var err error
	if cfg.Start, err = getenvDate("POLLEN_START"); err != nil {
		return nil, err
	}
	if cfg.End, err = getenvDate("POLLEN_END"); err != nil {
		return nil, err
	}

	cfg.StorePath = getenvDefault("POLLEN_STORE_PATH", "data/pollen_data.csv")
	cfg.StoreFormat = strings.ToLower(os.Getenv("POLLEN_STORE_FORMAT"))
	cfg.CSVBOM = getenvBool("POLLEN_CSV_BOM", true)

	cfg.SourceName = getenvDefault("POLLEN_SOURCE", "weatherdt")
	cfg.SourceURL = os.Getenv("POLLEN_SOURCE_URL")

	cfg.MaxRetries = getenvInt("POLLEN_MAX_RETRIES", 3)
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"POLLEN_RETRY_BASE_DELAY", "2s", &cfg.RetryBaseDelay},
		{"POLLEN_RETRY_MAX_DELAY", "30s", &cfg.RetryMaxDelay},
		{"POLLEN_REQUEST_DELAY", "2s", &cfg.RequestDelay},
		{"POLLEN_REQUEST_TIMEOUT", "10s", &cfg.RequestTimeout},
		{"POLLEN_SYNC_INTERVAL", "24h", &cfg.SyncInterval},
		{"POLLEN_SYNC_TIMEOUT", "30m", &cfg.SyncTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}
	cfg.Workers = getenvInt("POLLEN_WORKERS", 1)

	cfg.PlanStrategy = getenvDefault("POLLEN_PLAN_STRATEGY", "per-date")
	cfg.MergeColumns = getenvDefault("POLLEN_MERGE_COLUMNS", "intersect")

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "console"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints. Call it again after applying overrides.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Start.IsZero() != c.End.IsZero() {
		return fmt.Errorf("invalid configuration: POLLEN_START and POLLEN_END must be set together")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		logging.Warn().Str("key", key).Str("value", v).Msg("ignoring non-integer setting")
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDate(key string) (time.Time, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

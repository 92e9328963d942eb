package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	StorageBaseURL string
	StoragePath    string
	GeoIPDBPath    string

	FaceSwapAPIKey  string
	FaceSwapBaseURL string

	RequestTimeout        time.Duration
	MaxRetries            int
	RetryWaitBase         time.Duration
	RetryWaitMax          time.Duration
	RetryTimeoutIncrement time.Duration
	RetryableStatuses     []int

	PollInterval    time.Duration
	MaxPollAttempts int

	SessionTTL           time.Duration
	SessionWarnThreshold time.Duration
	ActivityDebounce     time.Duration
	SweepCadence         time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),

		FaceSwapAPIKey:  os.Getenv("FACESWAP_API_KEY"),
		FaceSwapBaseURL: getEnv("FACESWAP_BASE_URL", "https://api.faceswap.example.com/v1"),

		RequestTimeout:        time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)),
		MaxRetries:            getEnvInt("MAX_RETRIES", 3),
		RetryWaitBase:         time.Millisecond * time.Duration(getEnvInt("RETRY_WAIT_BASE_MS", 500)),
		RetryWaitMax:          time.Second * time.Duration(getEnvInt("RETRY_WAIT_MAX_SECONDS", 8)),
		RetryTimeoutIncrement: time.Second * time.Duration(getEnvInt("RETRY_TIMEOUT_INCREMENT_SECONDS", 5)),
		RetryableStatuses:     getEnvIntList("RETRYABLE_STATUS_CODES", []int{429, 500, 502, 503, 504}),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 2)),
		MaxPollAttempts: getEnvInt("MAX_POLL_ATTEMPTS", 30),

		SessionTTL:           time.Second * time.Duration(getEnvInt("SESSION_TTL_SECONDS", 300)),
		SessionWarnThreshold: time.Second * time.Duration(getEnvInt("SESSION_WARN_SECONDS", 60)),
		ActivityDebounce:     time.Second * time.Duration(getEnvInt("ACTIVITY_DEBOUNCE_SECONDS", 30)),
		SweepCadence:         time.Second * time.Duration(getEnvInt("SWEEP_CADENCE_SECONDS", 30)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SessionWarnThreshold >= cfg.SessionTTL {
		return nil, fmt.Errorf("SESSION_WARN_SECONDS must be below SESSION_TTL_SECONDS")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvIntList(key string, fallback []int) []int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, i)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

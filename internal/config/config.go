package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultAgroBaseURLs is the ordered list of candidate upstream base URLs probed at startup.
var DefaultAgroBaseURLs = []string{
	"https://api.agromonitoring.com/agro/1.0",
	"https://agromonitoring.com/agro/1.0",
	"http://api.agromonitoring.com/agro/1.0",
}

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	HTTPRateLimit   int
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseURL   string
	DBAutoMigrate bool

	// Upstream API.
	AgroAPIKey      string
	AgroBaseURLs    []string
	ProbeTimeout    time.Duration
	UpstreamTimeout time.Duration
	UpstreamRPS     float64
	UpstreamBurst   int
	StatsCacheSize  int

	// Sync orchestration.
	SyncConcurrency   int
	SyncInterval      time.Duration
	SyncRetryMax      int
	SatelliteLookback time.Duration

	// Kafka trigger/result topics.
	KafkaEnabled      bool
	KafkaBrokers      []string
	KafkaTriggerTopic string
	KafkaResultTopic  string
	KafkaGroupID      string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	probeTimeout, err := parsePositiveDuration("PROBE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	upstreamTimeout, err := parsePositiveDuration("UPSTREAM_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	lookback, err := parsePositiveDuration("SATELLITE_LOOKBACK", "720h")
	if err != nil {
		return nil, err
	}
	syncInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("SYNC_INTERVAL", "0s"))
	if err != nil || syncInterval < 0 {
		return nil, errors.New("invalid SYNC_INTERVAL")
	}

	rps, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("UPSTREAM_RPS", "1"), 64)
	if err != nil || rps <= 0 {
		return nil, errors.New("invalid UPSTREAM_RPS")
	}

	burst, err := parsePositiveInt("UPSTREAM_BURST", 5)
	if err != nil {
		return nil, err
	}
	concurrency, err := parsePositiveInt("SYNC_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	rateLimit, err := parsePositiveInt("HTTP_RATE_LIMIT", 30)
	if err != nil {
		return nil, err
	}

	retryMax := 2
	if s := os.Getenv("SYNC_RETRY_MAX"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, errors.New("invalid SYNC_RETRY_MAX")
		}
		retryMax = n
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		HTTPRateLimit:   rateLimit,
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBAutoMigrate: os.Getenv("DB_AUTO_MIGRATE") == "true",

		AgroAPIKey:      os.Getenv("AGRO_API_KEY"),
		AgroBaseURLs:    parseBaseURLs(os.Getenv("AGRO_BASE_URLS")),
		ProbeTimeout:    probeTimeout,
		UpstreamTimeout: upstreamTimeout,
		UpstreamRPS:     rps,
		UpstreamBurst:   burst,
		StatsCacheSize:  parseCacheSize(),

		SyncConcurrency:   concurrency,
		SyncInterval:      syncInterval,
		SyncRetryMax:      retryMax,
		SatelliteLookback: lookback,

		KafkaEnabled:      os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:      sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTriggerTopic: sharedcfg.EnvOrDefault("KAFKA_TRIGGER_TOPIC", "field-sync-requests"),
		KafkaResultTopic:  sharedcfg.EnvOrDefault("KAFKA_RESULT_TOPIC", "field-sync-results"),
		KafkaGroupID:      sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "field-env-sync"),
	}

	if cfg.AgroAPIKey == "" {
		return nil, errors.New("AGRO_API_KEY is required")
	}
	if len(cfg.AgroBaseURLs) == 0 {
		return nil, errors.New("AGRO_BASE_URLS is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaTriggerTopic == "" {
			return nil, errors.New("KAFKA_TRIGGER_TOPIC is required")
		}
		if cfg.KafkaResultTopic == "" {
			return nil, errors.New("KAFKA_RESULT_TOPIC is required")
		}
	}

	return cfg, nil
}

// parseBaseURLs splits a comma-separated candidate list, keeping order and
// dropping blanks and duplicates. An empty value yields the built-in defaults.
func parseBaseURLs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return append([]string(nil), DefaultAgroBaseURLs...)
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		u := strings.TrimRight(strings.TrimSpace(part), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseCacheSize() int {
	if s := os.Getenv("STATS_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

const dateLayout = "2006-01-02"

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Evaluation window and simulation source.
	EvalStart        time.Time
	EvalEnd          time.Time
	NWMConfiguration string
	NWMDataDir       string
	ReferenceHour    int

	// Cache.
	CacheBackend       string
	CachePath          string
	CacheMemoryEntries int
	RedisAddr          string
	RedisPassword      string
	CacheDatabaseURL   string

	// Computation.
	Partitions        int
	SiteChunkSize     int
	ThresholdQuantile float64

	// Remote sources.
	SVIYear     string
	SVIScale    string
	SVIBaseURL  string
	NWISBaseURL string
	NWISPeakURL string
	HTTPTimeout time.Duration

	// Service.
	HTTPAddr          string
	ExitOnComplete    bool
	LogLevel          string
	LogFormat         string
	ShutdownTimeout   time.Duration
	KafkaBrokers      []string
	KafkaResultsTopic string
}

// LoadDotEnv loads variables from the given files, or ./.env when none are
// named. Missing files are ignored and existing variables are not overridden.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	start, err := parseDate("EVAL_START", "2021-08-26")
	if err != nil {
		return nil, err
	}
	end, err := parseDate("EVAL_END", "2021-09-06")
	if err != nil {
		return nil, err
	}
	refHour, err := parseInt("REFERENCE_HOUR", 16)
	if err != nil {
		return nil, err
	}
	memEntries, err := parseInt("CACHE_MEMORY_ENTRIES", 0)
	if err != nil {
		return nil, err
	}
	partitions, err := parseInt("PARTITIONS", 4)
	if err != nil {
		return nil, err
	}
	chunkSize, err := parseInt("SITE_CHUNK_SIZE", 100)
	if err != nil {
		return nil, err
	}
	quantile, err := parseFloat("THRESHOLD_QUANTILE", 0.333)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := parseDuration("HTTP_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}
	exitOnComplete, err := parseBool("EXIT_ON_COMPLETE", true)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); raw != "" {
		brokers = sharedcfg.ParseBrokers(raw)
	}

	cfg := &Config{
		EvalStart:        start,
		EvalEnd:          end,
		NWMConfiguration: sharedcfg.EnvOrDefault("NWM_CONFIGURATION", "analysis_assim_extend_no_da"),
		NWMDataDir:       sharedcfg.EnvOrDefault("NWM_DATA_DIR", "nwm_data"),
		ReferenceHour:    refHour,

		CacheBackend:       strings.ToLower(sharedcfg.EnvOrDefault("CACHE_BACKEND", "sqlite")),
		CachePath:          sharedcfg.EnvOrDefault("CACHE_PATH", "local_data.db"),
		CacheMemoryEntries: memEntries,
		RedisAddr:          sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		CacheDatabaseURL:   os.Getenv("CACHE_DATABASE_URL"),

		Partitions:        partitions,
		SiteChunkSize:     chunkSize,
		ThresholdQuantile: quantile,

		SVIYear:     sharedcfg.EnvOrDefault("SVI_YEAR", "2018"),
		SVIScale:    sharedcfg.EnvOrDefault("SVI_SCALE", "county"),
		SVIBaseURL:  sharedcfg.EnvOrDefault("SVI_BASE_URL", "https://onemap.cdc.gov/OneMapServices/rest/services/SVI"),
		NWISBaseURL: sharedcfg.EnvOrDefault("NWIS_BASE_URL", "https://waterservices.usgs.gov/nwis"),
		NWISPeakURL: sharedcfg.EnvOrDefault("NWIS_PEAK_URL", "https://nwis.waterdata.usgs.gov/nwis/peak"),
		HTTPTimeout: httpTimeout,

		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		ExitOnComplete:    exitOnComplete,
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:   shutdownTimeout,
		KafkaBrokers:      brokers,
		KafkaResultsTopic: sharedcfg.EnvOrDefault("KAFKA_RESULTS_TOPIC", "flood-skill-results"),
	}
	if _, set := os.LookupEnv("HTTP_ADDR"); !set {
		cfg.HTTPAddr = ":8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.EvalEnd.Before(c.EvalStart) {
		return errors.New("EVAL_END must not be before EVAL_START")
	}
	if c.ReferenceHour < 0 || c.ReferenceHour > 23 {
		return errors.New("REFERENCE_HOUR must be between 0 and 23")
	}
	if c.Partitions <= 0 {
		return errors.New("PARTITIONS must be positive")
	}
	if c.SiteChunkSize <= 0 {
		return errors.New("SITE_CHUNK_SIZE must be positive")
	}
	if c.ThresholdQuantile < 0 || c.ThresholdQuantile > 1 {
		return errors.New("THRESHOLD_QUANTILE must be within [0, 1]")
	}
	if c.CacheMemoryEntries < 0 {
		return errors.New("CACHE_MEMORY_ENTRIES must not be negative")
	}
	switch c.CacheBackend {
	case "sqlite":
		if c.CachePath == "" {
			return errors.New("CACHE_PATH is required for the sqlite backend")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
	case "postgres":
		if c.CacheDatabaseURL == "" {
			return errors.New("CACHE_DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND %q is not one of sqlite, redis, postgres", c.CacheBackend)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaResultsTopic == "" {
		return errors.New("KAFKA_RESULTS_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func parseDate(name, def string) (time.Time, error) {
	t, err := time.Parse(dateLayout, sharedcfg.EnvOrDefault(name, def))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: want YYYY-MM-DD", name)
	}
	return t, nil
}

func parseInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseFloat(name string, def float64) (float64, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return f, nil
}

func parseDuration(name, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return d, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", name)
	}
	return b, nil
}

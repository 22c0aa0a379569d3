// Package config loads process configuration from 12-factor environment
// variables and the evidence-profile / ruleset catalog from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/reportdesk/pkg/artifacts"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	DBDriver    string
	LiteMode    bool
	DataDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RulesetVersion string
	CatalogPath    string

	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int

	OTelEnabled    bool
	OTelEndpoint   string
	OTelSampleRate float64
	Environment    string

	ShutdownTimeout time.Duration

	Artifacts artifacts.Config
}

// Load loads configuration from environment variables. Malformed numbers fall
// back to their defaults; Validate reports what a server cannot start with.
func Load() *Config {
	cfg := &Config{
		Port:            env("PORT", "8080"),
		LogLevel:        env("LOG_LEVEL", "INFO"),
		LogFormat:       env("LOG_FORMAT", "json"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBDriver:        strings.ToLower(env("DB_DRIVER", DriverPostgres)),
		LiteMode:        envBool("LITE_MODE", false),
		DataDir:         env("DATA_DIR", "data"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envInt("REDIS_DB", 0),
		RulesetVersion:  os.Getenv("RULESET_VERSION"),
		CatalogPath:     os.Getenv("CATALOG_PATH"),
		JWTSecret:       os.Getenv("JWT_HMAC_SECRET"),
		RateLimitRPS:    envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:  envInt("RATE_LIMIT_BURST", 40),
		OTelEnabled:     envBool("OTEL_ENABLED", false),
		OTelEndpoint:    env("OTEL_ENDPOINT", "localhost:4317"),
		OTelSampleRate:  envFloat("OTEL_SAMPLE_RATE", 1.0),
		Environment:     env("ENVIRONMENT", "development"),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Artifacts:       artifacts.ConfigFromEnv(),
	}
	if cfg.DBDriver == "sqlite3" {
		cfg.DBDriver = DriverSQLite
	}
	if cfg.DBDriver == DriverSQLite {
		cfg.LiteMode = true
	}
	if cfg.LiteMode {
		cfg.DBDriver = DriverSQLite
	}
	if cfg.DatabaseURL == "" {
		if cfg.LiteMode {
			cfg.DatabaseURL = "file:" + filepath.Join(cfg.DataDir, "reportdesk.db") + "?_pragma=busy_timeout(5000)"
		} else {
			cfg.DatabaseURL = "postgres://reportdesk@localhost:5432/reportdesk?sslmode=disable"
		}
	}
	if cfg.Artifacts.DataDir == "" {
		cfg.Artifacts.DataDir = cfg.DataDir
	}
	return cfg
}

// Validate checks the settings a server needs.
func (c *Config) Validate() error {
	var problems []string
	if _, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("PORT %q is not a number", c.Port))
	}
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		problems = append(problems, fmt.Sprintf("DB_DRIVER %q is not postgres or sqlite", c.DBDriver))
	}
	if c.RulesetVersion != "" {
		if _, err := semver.NewConstraint(c.RulesetVersion); err != nil {
			problems = append(problems, fmt.Sprintf("RULESET_VERSION %q: %v", c.RulesetVersion, err))
		}
	}
	if len(c.JWTSecret) < 16 {
		problems = append(problems, "JWT_HMAC_SECRET must be at least 16 bytes")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		problems = append(problems, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		problems = append(problems, "OTEL_SAMPLE_RATE must be within [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/signalsfoundry/saarathi/internal/observability"
)

// Feed source names accepted in FEED_SOURCE.
const (
	FeedStatic    = "static"
	FeedRailRadar = "railradar"
	FeedGTFSRT    = "gtfs-rt"
)

// Config holds all configuration for the planning server.
type Config struct {
	// Listeners
	GRPCAddress string `validate:"required"`
	HTTPAddress string `validate:"required"`

	// Station and layouts
	Station   string `validate:"required,alphanum,max=8"`
	LayoutDir string

	// Live feed
	FeedSource     string        `validate:"oneof=static railradar gtfs-rt"`
	RailRadarURL   string        `validate:"omitempty,url"`
	RailRadarKey   string        `validate:"required_if=FeedSource railradar"`
	GTFSRTURL      string        `validate:"required_if=FeedSource gtfs-rt"`
	FeedTimezone   string        `validate:"required"`
	PollInterval   time.Duration `validate:"min=1s"`
	DefaultLength  int           `validate:"gte=0"`
	RequestTimeout time.Duration `validate:"min=0"`

	// Planning
	PlanTimeout time.Duration `validate:"min=1s"`

	// Audit trail: empty for in-memory SQLite, a file path, or a postgres URL.
	AuditDSN string

	// Neo4j layout graph; disabled when URI is empty.
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// HTTP
	AllowedOrigins []string

	Tracing observability.TracingConfig
}

// LoadDotEnv loads .env and then .env.local from dir, the latter
// overriding. Missing files are ignored.
func LoadDotEnv(dir string) {
	_ = godotenv.Load(joinPath(dir, ".env"))
	_ = godotenv.Overload(joinPath(dir, ".env.local"))
}

// Load reads configuration from environment variables with defaults and
// validates it. Without a RailRadar key the feed falls back to the static
// board.
func Load() (*Config, error) {
	cfg := &Config{
		GRPCAddress: getEnv("GRPC_ADDR", ":50051"),
		HTTPAddress: getEnv("HTTP_ADDR", ":8080"),

		Station:   strings.ToUpper(getEnv("STATION", "NDLS")),
		LayoutDir: getEnv("LAYOUT_DIR", ""),

		FeedSource:     strings.ToLower(getEnv("FEED_SOURCE", "")),
		RailRadarURL:   getEnv("RAILRADAR_URL", ""),
		RailRadarKey:   getEnv("RAILRADAR_API_KEY", ""),
		GTFSRTURL:      getEnv("GTFS_RT_URL", ""),
		FeedTimezone:   getEnv("FEED_TIMEZONE", "Asia/Kolkata"),
		PollInterval:   getEnvDuration("POLL_INTERVAL", 15*time.Minute),
		DefaultLength:  getEnvInt("DEFAULT_LENGTH_COACHES", 0),
		RequestTimeout: getEnvDuration("FEED_REQUEST_TIMEOUT", 15*time.Second),

		PlanTimeout: getEnvDuration("PLAN_TIMEOUT", 30*time.Second),

		AuditDSN: getEnv("AUDIT_DSN", ""),

		Neo4jURI:      getEnv("NEO4J_URI", ""),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),

		AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),

		Tracing: observability.TracingConfigFromEnv(),
	}
	if cfg.FeedSource == "" {
		cfg.FeedSource = FeedStatic
		if cfg.RailRadarKey != "" {
			cfg.FeedSource = FeedRailRadar
		}
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(cfg.FeedTimezone); err != nil {
		return nil, fmt.Errorf("invalid configuration: FEED_TIMEZONE: %w", err)
	}
	return cfg, nil
}

// Location returns the feed time zone; Load has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.FeedTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

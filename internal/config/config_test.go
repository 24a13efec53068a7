package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var configKeys = []string{
	"GRPC_ADDR", "HTTP_ADDR", "STATION", "LAYOUT_DIR", "FEED_SOURCE", "RAILRADAR_URL",
	"RAILRADAR_API_KEY", "GTFS_RT_URL", "FEED_TIMEZONE", "POLL_INTERVAL",
	"DEFAULT_LENGTH_COACHES", "FEED_REQUEST_TIMEOUT", "PLAN_TIMEOUT", "AUDIT_DSN",
	"NEO4J_URI", "NEO4J_USER", "NEO4J_PASSWORD", "NEO4J_DATABASE", "CORS_ALLOWED_ORIGINS",
}

// clearEnv blanks every variable Load reads so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddress != ":50051" || cfg.HTTPAddress != ":8080" || cfg.Station != "NDLS" {
		t.Fatalf("listeners/station = %q %q %q", cfg.GRPCAddress, cfg.HTTPAddress, cfg.Station)
	}
	if cfg.FeedSource != FeedStatic {
		t.Fatalf("FeedSource = %q, want %q without an API key", cfg.FeedSource, FeedStatic)
	}
	if cfg.PollInterval != 15*time.Minute || cfg.PlanTimeout != 30*time.Second {
		t.Fatalf("PollInterval = %v, PlanTimeout = %v", cfg.PollInterval, cfg.PlanTimeout)
	}
	if diff := cmp.Diff([]string{"http://localhost:5173"}, cfg.AllowedOrigins); diff != "" {
		t.Fatalf("AllowedOrigins mismatch (-want +got):\n%s", diff)
	}
	if cfg.Location().String() != "Asia/Kolkata" {
		t.Fatalf("Location = %v, want Asia/Kolkata", cfg.Location())
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STATION", "mmct")
	t.Setenv("RAILRADAR_API_KEY", "secret")
	t.Setenv("POLL_INTERVAL", "90")
	t.Setenv("PLAN_TIMEOUT", "45s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DEFAULT_LENGTH_COACHES", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Station != "MMCT" || cfg.FeedSource != FeedRailRadar || cfg.RailRadarKey != "secret" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.PollInterval != 90*time.Second || cfg.PlanTimeout != 45*time.Second || cfg.DefaultLength != 20 {
		t.Fatalf("PollInterval = %v, PlanTimeout = %v, DefaultLength = %d", cfg.PollInterval, cfg.PlanTimeout, cfg.DefaultLength)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins); diff != "" {
		t.Fatalf("AllowedOrigins mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown feed", map[string]string{"FEED_SOURCE": "teletext"}},
		{"railradar without key", map[string]string{"FEED_SOURCE": "railradar"}},
		{"gtfs-rt without url", map[string]string{"FEED_SOURCE": "gtfs-rt"}},
		{"bad railradar url", map[string]string{"RAILRADAR_URL": "not a url"}},
		{"poll too fast", map[string]string{"POLL_INTERVAL": "10ms"}},
		{"bad station", map[string]string{"STATION": "N-D"}},
		{"bad timezone", map[string]string{"FEED_TIMEZONE": "Mars/Olympus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("Load succeeded, want error")
			}
		})
	}
}

func TestLoadDotEnvLocalOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("STATION=HWH\nHTTP_ADDR=:9000\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("STATION=SBC\n"), 0o600); err != nil {
		t.Fatalf("write .env.local: %v", err)
	}
	// godotenv.Load does not override variables that are already set, even
	// to the empty string, so unset the two keys and restore them after.
	for _, k := range []string{"STATION", "HTTP_ADDR"} {
		os.Unsetenv(k)
		t.Cleanup(func() { os.Unsetenv(k) })
	}

	LoadDotEnv(dir)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Station != "SBC" || cfg.HTTPAddress != ":9000" {
		t.Fatalf("Station = %q, HTTPAddress = %q, want SBC and :9000", cfg.Station, cfg.HTTPAddress)
	}
}

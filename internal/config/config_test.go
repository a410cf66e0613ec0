package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadAgentConfigDefaults(t *testing.T) {
	cfg, err := LoadAgentConfig()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.SampleInterval != 3*time.Second {
		t.Fatalf("unexpected intervals %s %s", cfg.PollInterval, cfg.SampleInterval)
	}
	if cfg.ReconcileMode != "poll-after-write" || cfg.APITimeout != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadAgentConfigReportsAllErrors(t *testing.T) {
	t.Setenv("TRACK_POLL_INTERVAL", "soon")
	t.Setenv("API_RATE_LIMIT", "fast")
	t.Setenv("RECONCILE_MODE", "eventually")

	_, err := LoadAgentConfig()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"TRACK_POLL_INTERVAL", "API_RATE_LIMIT", "RECONCILE_MODE"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in %v", key, err)
		}
	}
}

func TestLoadAgentConfigOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://example.test/api/")
	t.Setenv("API_PATH_SUFFIX", ".php")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("REQUEST_ID", "501")
	t.Setenv("RECONCILE_MODE", "TRUST-LOCAL-WRITE")

	cfg, err := LoadAgentConfig()
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if cfg.APIBaseURL != "https://example.test/api" || cfg.APIPathSuffix != ".php" {
		t.Fatalf("unexpected api settings %q %q", cfg.APIBaseURL, cfg.APIPathSuffix)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.RequestID != 501 || cfg.ReconcileMode != "trust-local-write" {
		t.Fatalf("unexpected %+v", cfg)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("ROADSIDE_TEST_A=from-file\nROADSIDE_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ROADSIDE_TEST_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("ROADSIDE_TEST_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("ROADSIDE_TEST_A") != "from-env" || os.Getenv("ROADSIDE_TEST_B") != "from-file" {
		t.Fatalf("unexpected env A=%q B=%q", os.Getenv("ROADSIDE_TEST_A"), os.Getenv("ROADSIDE_TEST_B"))
	}
}

func TestLoadRelayConfig(t *testing.T) {
	t.Setenv("SNAPSHOT_TTL", "1m")
	cfg, err := LoadRelayConfig()
	if err != nil || cfg.SnapshotTTL != time.Minute || cfg.RedisGeoKey != "tracking_geo" {
		t.Fatalf("unexpected %+v %v", cfg, err)
	}
}

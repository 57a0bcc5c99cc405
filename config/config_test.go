package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
perpflow:
  name: perpflow
  version: 1.0.0

channels:
  event_buffer: 1024
  batch_buffer: 256

feeds:
  market:
    pull_interval: 2s
    liveness_timeout: 15s
    degraded_after: 3
    redial_min: 5s
    redial_max: 1m
  account:
    pull_interval: 5s
    liveness_timeout: 30s
    degraded_after: 3

source:
  paradex:
    enabled: true
    ws_url: wss://ws.example.com/v1
    rest_url: https://api.example.com/v1
    timeout: 10s
    symbols:
      BTC-USD-PERP: BTC-USD

processor:
  max_workers: 4
  batch_size: 500
  batch_timeout: 5s

storage:
  s3:
    enabled: false
  kafka:
    enabled: false

writer:
  flush_interval: 60s
  max_buffered: 50000
  compression: snappy

logging:
  level: info
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigValid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Perpflow.Name != "perpflow" || cfg.Perpflow.Version != "1.0.0" {
		t.Errorf("perpflow: %+v", cfg.Perpflow)
	}
	if cfg.Feeds.Market.PullInterval != 2*time.Second {
		t.Errorf("market pull interval: %v", cfg.Feeds.Market.PullInterval)
	}
	if cfg.Feeds.Market.RedialMax != time.Minute {
		t.Errorf("market redial max: %v", cfg.Feeds.Market.RedialMax)
	}
	if !cfg.Source.Paradex.Enabled || cfg.Source.Paradex.Symbols["BTC-USD-PERP"] != "BTC-USD" {
		t.Errorf("paradex: %+v", cfg.Source.Paradex)
	}
	if cfg.Writer.Compression != "snappy" {
		t.Errorf("compression: %s", cfg.Writer.Compression)
	}
	// defaults
	if !cfg.Metrics.ChannelSize {
		t.Error("metrics.channel_size should default to true")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(s string) string { return strings.Replace(s, "name: perpflow", "name: \"\"", 1) },
			wantErr: "perpflow.name",
		},
		{
			name:    "zero event buffer",
			mutate:  func(s string) string { return strings.Replace(s, "event_buffer: 1024", "event_buffer: 0", 1) },
			wantErr: "event_buffer",
		},
		{
			name:    "zero pull interval",
			mutate:  func(s string) string { return strings.Replace(s, "pull_interval: 2s", "pull_interval: 0s", 1) },
			wantErr: "pull_interval",
		},
		{
			name: "enabled venue without symbols",
			mutate: func(s string) string {
				return strings.Replace(s, "    symbols:\n      BTC-USD-PERP: BTC-USD\n", "", 1)
			},
			wantErr: "symbols",
		},
		{
			name:    "zero workers",
			mutate:  func(s string) string { return strings.Replace(s, "max_workers: 4", "max_workers: 0", 1) },
			wantErr: "max_workers",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.mutate(validYAML)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadConfigS3Validation(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	t.Setenv("AWS_REGION", "")
	yml := strings.Replace(validYAML, "  s3:\n    enabled: false",
		"  s3:\n    enabled: true\n    bucket: \"Bad_Bucket\"\n    region: eu-west-1", 1)
	_, err := LoadConfig(writeConfig(t, yml))
	if err == nil || !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("err = %v, want invalid bucket", err)
	}
}

func TestResolveEnvSpecificPath(t *testing.T) {
	dir := t.TempDir()
	defaultPath := filepath.Join(dir, "config.yml")
	prodPath := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prodPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	envPaths := map[string]string{environmentProduction: prodPath}

	t.Setenv(appEnvVar, "prod")
	if got := resolveEnvSpecificPath(defaultPath, defaultPath, envPaths); got != prodPath {
		t.Errorf("prod path = %s, want %s", got, prodPath)
	}

	t.Setenv(appEnvVar, "development")
	if got := resolveEnvSpecificPath(defaultPath, defaultPath, envPaths); got != defaultPath {
		t.Errorf("dev path = %s, want %s", got, defaultPath)
	}

	// explicit non-default path always wins
	t.Setenv(appEnvVar, "prod")
	other := filepath.Join(dir, "custom.yml")
	if got := resolveEnvSpecificPath(other, defaultPath, envPaths); got != other {
		t.Errorf("explicit path = %s, want %s", got, other)
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(EnvironmentProduction) || !IsProductionLike(EnvironmentStaging) {
		t.Error("production and staging are production-like")
	}
	if IsProductionLike(EnvironmentDevelopment) {
		t.Error("development is not production-like")
	}
}

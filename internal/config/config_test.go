package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/wsdump/internal/errors"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.RotationInterval != def.RotationInterval {
		t.Fatalf("RotationInterval = %v, want %v", cfg.RotationInterval.Std(), def.RotationInterval.Std())
	}
	if cfg.BurstThreshold.Std() != 5*time.Second || cfg.MinReconnect.Std() != time.Second || cfg.MaxReconnect.Std() != time.Minute {
		t.Errorf("reconnect policy = %v/%v/%v", cfg.BurstThreshold.Std(), cfg.MinReconnect.Std(), cfg.MaxReconnect.Std())
	}
	if len(cfg.Exchanges) != 3 {
		t.Errorf("Exchanges = %v", cfg.Exchanges)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"rotation_interval": "1h", "exchanges": ["bitflyer"], "disable_compression": true}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RotationInterval.Std() != time.Hour {
		t.Errorf("RotationInterval = %v, want 1h", cfg.RotationInterval.Std())
	}
	if len(cfg.Exchanges) != 1 || cfg.Exchanges[0] != "bitflyer" {
		t.Errorf("Exchanges = %v, want [bitflyer]", cfg.Exchanges)
	}
	if !cfg.DisableCompression {
		t.Errorf("DisableCompression = false, want true")
	}
	if cfg.BitfinexChannelLimit != 30 {
		t.Errorf("BitfinexChannelLimit = %d, want default 30", cfg.BitfinexChannelLimit)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{not json}`)

	if _, err := Load(tmpDir); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("Load() error = %v, want INVALID_REQUEST", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"rotation_interval": "a day"}`)

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"output_dir": "/from/file", "log_level": "debug"}`)
	t.Setenv("WSDUMP_OUTPUT_DIR", "/from/env")
	t.Setenv("WSDUMP_EXCHANGES", "bitfinex,bitmex")
	t.Setenv("WSDUMP_MAX_RECONNECT", "2m")
	t.Setenv("WSDUMP_ARCHIVE_ENABLED", "true")
	t.Setenv("WSDUMP_ARCHIVE_BUCKET", "captures")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OutputDir != "/from/env" {
		t.Errorf("OutputDir = %q, want /from/env", cfg.OutputDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug from file", cfg.LogLevel)
	}
	if len(cfg.Exchanges) != 2 || cfg.Exchanges[0] != "bitfinex" || cfg.Exchanges[1] != "bitmex" {
		t.Errorf("Exchanges = %v", cfg.Exchanges)
	}
	if cfg.MaxReconnect.Std() != 2*time.Minute {
		t.Errorf("MaxReconnect = %v, want 2m", cfg.MaxReconnect.Std())
	}
	if !cfg.Archive.Enabled || cfg.Archive.Bucket != "captures" {
		t.Errorf("Archive = %+v", cfg.Archive)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown exchange", func(c *Config) { c.Exchanges = []string{"kraken"} }, true},
		{"no exchanges", func(c *Config) { c.Exchanges = nil }, true},
		{"max below min", func(c *Config) { c.MaxReconnect = Duration(time.Millisecond) }, true},
		{"zero rotation", func(c *Config) { c.RotationInterval = 0 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }, true},
		{"archive with bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Bucket = "captures"
			c.Archive.Endpoint = "http://localhost:9000"
		}, false},
		{"channel limit too small", func(c *Config) { c.BitfinexChannelLimit = 1 }, true},
		{"zero read timeout", func(c *Config) { c.ReadTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidRequest) {
					t.Errorf("Validate() error = %v, want INVALID_REQUEST", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() error = %v", err)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Archive = ArchiveConfig{Bucket: "a", Region: "us-east-1"}
	overlay := &Config{
		BitfinexChannelLimit: 10,
		Exchanges:            []string{" bitmex ", "bitmex", ""},
		LogPretty:            true,
		Archive:              ArchiveConfig{Bucket: "b"},
	}

	got := Merge(base, overlay)
	if got.BitfinexChannelLimit != 10 {
		t.Errorf("BitfinexChannelLimit = %d, want 10", got.BitfinexChannelLimit)
	}
	if len(got.Exchanges) != 1 || got.Exchanges[0] != "bitmex" {
		t.Errorf("Exchanges = %v, want [bitmex]", got.Exchanges)
	}
	if !got.LogPretty {
		t.Errorf("LogPretty = false, want true")
	}
	if got.Archive.Bucket != "b" || got.Archive.Region != "us-east-1" {
		t.Errorf("Archive = %+v", got.Archive)
	}
	if got.RotationInterval != base.RotationInterval {
		t.Errorf("RotationInterval changed: %v", got.RotationInterval.Std())
	}
}

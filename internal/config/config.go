package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/hpungsan/wsdump/internal/errors"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WSDUMP_"

// Config holds application configuration.
type Config struct {
	// OutputDir is the root of the capture tree; each exchange writes to OutputDir/<exchange>.
	OutputDir string `json:"output_dir,omitempty" env:"OUTPUT_DIR" validate:"required"`

	// Exchanges selects which capture sessions run.
	Exchanges []string `json:"exchanges,omitempty" env:"EXCHANGES" envSeparator:"," validate:"min=1,dive,oneof=bitflyer bitfinex bitmex"`

	// RotationInterval is the maximum age of a log file before it is rotated.
	RotationInterval Duration `json:"rotation_interval,omitempty" env:"ROTATION_INTERVAL" validate:"gt=0"`

	// DisableCompression writes plain .json.lines files instead of gzip.
	DisableCompression bool `json:"disable_compression,omitempty" env:"DISABLE_COMPRESSION"`

	// BurstThreshold is how close two disconnects must be to count as a burst.
	BurstThreshold Duration `json:"burst_threshold,omitempty" env:"BURST_THRESHOLD" validate:"gt=0"`

	// MinReconnect and MaxReconnect bound the reconnect wait.
	MinReconnect Duration `json:"min_reconnect,omitempty" env:"MIN_RECONNECT" validate:"gt=0"`
	MaxReconnect Duration `json:"max_reconnect,omitempty" env:"MAX_RECONNECT" validate:"gtefield=MinReconnect"`

	// BitfinexChannelLimit caps bitfinex subscriptions; two channels are used per symbol.
	BitfinexChannelLimit int `json:"bitfinex_channel_limit,omitempty" env:"BITFINEX_CHANNEL_LIMIT" validate:"gte=2"`

	BitflyerMarketsURL string `json:"bitflyer_markets_url,omitempty" env:"BITFLYER_MARKETS_URL" validate:"url"`
	BitfinexTickersURL string `json:"bitfinex_tickers_url,omitempty" env:"BITFINEX_TICKERS_URL" validate:"url"`

	// HTTPTimeout bounds the metadata requests made before subscribing.
	HTTPTimeout Duration `json:"http_timeout,omitempty" env:"HTTP_TIMEOUT" validate:"gt=0"`

	// ReadTimeout is how long a connection may stay silent, pongs included,
	// before it is dropped and redialed.
	ReadTimeout Duration `json:"read_timeout,omitempty" env:"READ_TIMEOUT" validate:"gt=0"`

	LogLevel  string `json:"log_level,omitempty" env:"LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn error"`
	LogPretty bool   `json:"log_pretty,omitempty" env:"LOG_PRETTY"`

	// Archive uploads closed capture files to an S3-compatible bucket.
	Archive ArchiveConfig `json:"archive,omitempty" envPrefix:"ARCHIVE_"`
}

// ArchiveConfig configures the object-storage archive.
type ArchiveConfig struct {
	Enabled   bool   `json:"enabled,omitempty" env:"ENABLED"`
	Endpoint  string `json:"endpoint,omitempty" env:"ENDPOINT" validate:"omitempty,url"`
	Bucket    string `json:"bucket,omitempty" env:"BUCKET" validate:"required_if=Enabled true"`
	Region    string `json:"region,omitempty" env:"REGION"`
	AccessKey string `json:"access_key,omitempty" env:"ACCESS_KEY"`
	SecretKey string `json:"secret_key,omitempty" env:"SECRET_KEY"`
	Prefix    string `json:"prefix,omitempty" env:"PREFIX"`
}

// Duration is a time.Duration written as a Go duration string ("24h", "5s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler (used by JSON strings and env).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:            ".",
		Exchanges:            []string{"bitflyer", "bitfinex", "bitmex"},
		RotationInterval:     Duration(24 * time.Hour),
		BurstThreshold:       Duration(5 * time.Second),
		MinReconnect:         Duration(time.Second),
		MaxReconnect:         Duration(60 * time.Second),
		BitfinexChannelLimit: 30,
		BitflyerMarketsURL:   "https://api.bitflyer.com/v1/markets",
		BitfinexTickersURL:   "https://api-pub.bitfinex.com/v2/tickers?symbols=ALL",
		HTTPTimeout:          Duration(30 * time.Second),
		ReadTimeout:          Duration(60 * time.Second),
		LogLevel:             "info",
	}
}

// Load loads configuration from baseDir/config.json, then applies WSDUMP_*
// environment variables and validates the result.
// A missing file yields the defaults.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites cfg fields whose environment variables are set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("parse env: %v", err))
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return errors.NewInvalidRequest("invalid config: " + strings.Join(fields, ", "))
		}
		return errors.NewInvalidRequest(fmt.Sprintf("invalid config: %v", err))
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid config file %s: %v", configPath, err))
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path on top of the defaults.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence when non-zero; the exchange list is replaced, not merged.
func Merge(base, overlay *Config) *Config {
	result := *base

	if overlay.OutputDir != "" {
		result.OutputDir = overlay.OutputDir
	}
	if len(overlay.Exchanges) > 0 {
		result.Exchanges = dedupe(overlay.Exchanges)
	}
	if overlay.RotationInterval != 0 {
		result.RotationInterval = overlay.RotationInterval
	}
	if overlay.BurstThreshold != 0 {
		result.BurstThreshold = overlay.BurstThreshold
	}
	if overlay.MinReconnect != 0 {
		result.MinReconnect = overlay.MinReconnect
	}
	if overlay.MaxReconnect != 0 {
		result.MaxReconnect = overlay.MaxReconnect
	}
	if overlay.BitfinexChannelLimit != 0 {
		result.BitfinexChannelLimit = overlay.BitfinexChannelLimit
	}
	if overlay.BitflyerMarketsURL != "" {
		result.BitflyerMarketsURL = overlay.BitflyerMarketsURL
	}
	if overlay.BitfinexTickersURL != "" {
		result.BitfinexTickersURL = overlay.BitfinexTickersURL
	}
	if overlay.HTTPTimeout != 0 {
		result.HTTPTimeout = overlay.HTTPTimeout
	}
	if overlay.ReadTimeout != 0 {
		result.ReadTimeout = overlay.ReadTimeout
	}
	if overlay.LogLevel != "" {
		result.LogLevel = overlay.LogLevel
	}

	// Booleans: overlay wins if true, else base
	result.DisableCompression = base.DisableCompression || overlay.DisableCompression
	result.LogPretty = base.LogPretty || overlay.LogPretty

	result.Archive = mergeArchive(base.Archive, overlay.Archive)
	return &result
}

func mergeArchive(base, overlay ArchiveConfig) ArchiveConfig {
	result := base
	result.Enabled = base.Enabled || overlay.Enabled
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.Endpoint, overlay.Endpoint},
		{&result.Bucket, overlay.Bucket},
		{&result.Region, overlay.Region},
		{&result.AccessKey, overlay.AccessKey},
		{&result.SecretKey, overlay.SecretKey},
		{&result.Prefix, overlay.Prefix},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	return result
}

// dedupe trims whitespace and removes duplicates, keeping first occurrences.
func dedupe(values []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(values))
	for _, s := range values {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

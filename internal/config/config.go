// Package config loads dietweb settings. Precedence, lowest first: defaults,
// the TOML file, .env files, process environment. Command-line flags are
// applied by the caller on top.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pcrpg2df4s-blip/dietweb/internal/estimator"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
)

type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`
	Estimator EstimatorConfig `toml:"estimator"`
	Log       LogConfig       `toml:"log"`
}

type StorageConfig struct {
	DBPath         string `toml:"db_path"`
	QuotaBytes     int64  `toml:"quota_bytes"`
	KeepOnTruncate int    `toml:"keep_on_truncate"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	ReadTimeout    Duration `toml:"read_timeout"`
	WriteTimeout   Duration `toml:"write_timeout"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`
}

type EstimatorConfig struct {
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	Timeout     Duration `toml:"timeout"`
	MaxAttempts uint64   `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	// BarcodeURL points at an Open Food Facts compatible server.
	BarcodeURL string `toml:"barcode_url"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration reads and writes values like "30s" or "1m30s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			QuotaBytes:     5 * 1024 * 1024,
			KeepOnTruncate: ledger.DefaultKeepOnTruncate,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    Duration{15 * time.Second},
			WriteTimeout:   Duration{60 * time.Second},
			MaxUploadBytes: 8 << 20,
		},
		Estimator: EstimatorConfig{
			Model:       estimator.DefaultModel,
			Timeout:     Duration{30 * time.Second},
			MaxAttempts: estimator.DefaultRetryPolicy.MaxAttempts,
			BaseDelay:   Duration{estimator.DefaultRetryPolicy.BaseDelay},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. A missing file at path is not an error
// unless required is set; dotenv files that do not exist are skipped.
func Load(path string, required bool, dotenvFiles ...string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) || required {
				return cfg, fmt.Errorf("load config %s: %w", path, err)
			}
		}
	}

	dotenv := map[string]string{}
	for _, f := range dotenvFiles {
		values, err := godotenv.Read(f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("read %s: %w", f, err)
		}
		for k, v := range values {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides settings from DIETWEB_* variables and the usual Gemini
// key variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("DIETWEB_DB", &c.Storage.DBPath)
	str("DIETWEB_ADDR", &c.Server.Addr)
	str("DIETWEB_LOG_LEVEL", &c.Log.Level)
	str("DIETWEB_LOG_FORMAT", &c.Log.Format)
	str("DIETWEB_GEMINI_MODEL", &c.Estimator.Model)
	str("DIETWEB_GEMINI_BASE_URL", &c.Estimator.BaseURL)
	str("DIETWEB_BARCODE_URL", &c.Estimator.BarcodeURL)
	str("GOOGLE_API_KEY", &c.Estimator.APIKey)
	str("GEMINI_API_KEY", &c.Estimator.APIKey)

	if v, ok := lookup("DIETWEB_ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		origins := make([]string, 0)
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v, ok := lookup("DIETWEB_QUOTA_BYTES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid DIETWEB_QUOTA_BYTES %q", v)
		}
		c.Storage.QuotaBytes = n
	}
	if v, ok := lookup("DIETWEB_KEEP_ON_TRUNCATE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid DIETWEB_KEEP_ON_TRUNCATE %q", v)
		}
		c.Storage.KeepOnTruncate = n
	}
	return nil
}

func (c Config) Validate() error {
	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage.quota_bytes must be >= 0")
	}
	if c.Storage.KeepOnTruncate < 1 {
		return fmt.Errorf("storage.keep_on_truncate must be >= 1")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be > 0")
	}
	if c.Estimator.MaxAttempts < 1 {
		return fmt.Errorf("estimator.max_attempts must be >= 1")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	return nil
}

func (c Config) RetryPolicy() estimator.RetryPolicy {
	return estimator.RetryPolicy{MaxAttempts: c.Estimator.MaxAttempts, BaseDelay: c.Estimator.BaseDelay.Duration}
}

// Write encodes c as TOML with the API key left out.
func (c Config) Write(w io.Writer) error {
	c.Estimator.APIKey = ""
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

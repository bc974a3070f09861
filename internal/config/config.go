// Package config loads the server configuration: defaults, then an optional
// YAML file, then DAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
)

const EnvPrefix = "DAR_"

type Config struct {
	Listen            string        `yaml:"listen" env:"LISTEN" validate:"required"`
	DataDir           string        `yaml:"data_dir" env:"DATA_DIR" validate:"required"`
	TickRateHz        int           `yaml:"tick_rate_hz" env:"TICK_RATE_HZ" validate:"gte=1,lte=1000"`
	SyncInterval      time.Duration `yaml:"sync_interval" env:"SYNC_INTERVAL" validate:"gt=0"`
	RelayOnly         bool          `yaml:"relay_only" env:"RELAY_ONLY"`
	MatchRemovalDelay time.Duration `yaml:"match_removal_delay" env:"MATCH_REMOVAL_DELAY" validate:"gte=0"`

	Validation Validation `yaml:"validation" envPrefix:"VALIDATION_"`
	RateLimit  RateLimit  `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	IndexDB    IndexDB    `yaml:"index_db" envPrefix:"INDEX_DB_"`
	Redis      Redis      `yaml:"redis" envPrefix:"REDIS_"`
	Upload     Upload     `yaml:"upload" envPrefix:"UPLOAD_"`
	Log        Log        `yaml:"log" envPrefix:"LOG_"`
}

// Validation controls the shadow determinism validator.
type Validation struct {
	Enabled    bool `yaml:"enabled" env:"ENABLED"`
	CheckState bool `yaml:"check_state" env:"CHECK_STATE"`
	FullState  bool `yaml:"full_state" env:"FULL_STATE"`
}

type RateLimit struct {
	PerSecond float64 `yaml:"per_second" env:"PER_SECOND" validate:"gte=0"`
	Burst     int     `yaml:"burst" env:"BURST" validate:"gte=0"`
}

type IndexDB struct {
	Path     string `yaml:"path" env:"PATH"`
	Disabled bool   `yaml:"disabled" env:"DISABLED"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"password" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB" validate:"gte=0"`
	Prefix   string        `yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `yaml:"ttl" env:"TTL" validate:"gte=0"`
	Disabled bool          `yaml:"disabled" env:"DISABLED"`
}

// Upload mirrors closed match archives to an S3 compatible bucket.
type Upload struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Region    string `yaml:"region" env:"REGION"`
	Prefix    string `yaml:"prefix" env:"PREFIX"`
	Disabled  bool   `yaml:"disabled" env:"DISABLED"`
}

type Log struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=text json"`
}

func Defaults() Config {
	return Config{
		Listen:            ":8080",
		DataDir:           "./data",
		TickRateHz:        60,
		SyncInterval:      50 * time.Millisecond,
		MatchRemovalDelay: 2 * time.Second,
		Validation:        Validation{Enabled: false, CheckState: true},
		RateLimit:         RateLimit{PerSecond: 50, Burst: 100},
		Redis:             Redis{Prefix: "gameframework:", Disabled: true},
		Upload:            Upload{Region: "auto", Prefix: "archives", Disabled: true},
		Log:               Log{Level: "info", Format: "text"},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with an explicit environment; nil means os.Environ.
func LoadWith(path string, environ map[string]string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.IndexDB.Path == "" && c.DataDir != "" {
		c.IndexDB.Path = filepath.Join(c.DataDir, "index", "index.sqlite")
	}
	if c.Redis.Prefix != "" && !strings.HasSuffix(c.Redis.Prefix, ":") {
		c.Redis.Prefix += ":"
	}
	c.Upload.Endpoint = strings.TrimSpace(c.Upload.Endpoint)
	c.Upload.Bucket = strings.TrimSpace(c.Upload.Bucket)
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Validation.FullState && !c.Validation.CheckState {
		return fmt.Errorf("invalid config: validation.full_state requires validation.check_state")
	}
	if !c.Redis.Disabled && c.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis.addr is required unless redis.disabled")
	}
	if !c.IndexDB.Disabled && c.IndexDB.Path == "" {
		return fmt.Errorf("invalid config: index_db.path is required unless index_db.disabled")
	}
	if u := c.Upload; !u.Disabled && (u.Endpoint == "" || u.Bucket == "" || u.AccessKey == "" || u.SecretKey == "") {
		return fmt.Errorf("invalid config: upload needs endpoint, bucket, access_key and secret_key unless upload.disabled")
	}
	return nil
}

// TickPeriod is the loop period implied by TickRateHz.
func (c Config) TickPeriod() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}

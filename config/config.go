// Package config loads service settings from defaults, an optional YAML file,
// a .env file and OUTBREAK_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v2"

	"outbreakcast/logging"
	"outbreakcast/ml"
	"outbreakcast/outbreak"
)

const (
	EnvDBDriver = "OUTBREAK_DB_DRIVER"
	EnvDBDSN    = "OUTBREAK_DB_DSN"
	EnvModelDir = "OUTBREAK_MODEL_DIR"
	EnvHTTPPort = "OUTBREAK_HTTP_PORT"
	EnvLogLevel = "OUTBREAK_LOG_LEVEL"
	EnvLanguage = "OUTBREAK_LANGUAGE"
	EnvSchedule = "OUTBREAK_TRAIN_SCHEDULE"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Models   ModelsConfig   `yaml:"models"`
	HTTP     HTTPConfig     `yaml:"http"`
	Training TrainingConfig `yaml:"training"`
	Log      logging.Config `yaml:"log"`
	Language string         `yaml:"language"`
}

// DatabaseConfig points at the case history store. DSN is handed to the
// driver as is and never logged.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ModelsConfig struct {
	Dir       string `yaml:"dir"`
	CacheSize int    `yaml:"cache_size"`
	// Watch evicts cached models when their artifact changes on disk.
	Watch bool `yaml:"watch"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type TrainingConfig struct {
	MinObservations int             `yaml:"min_observations"`
	Forest          ml.ForestConfig `yaml:"forest"`
	// Schedule is a standard five-field cron expression; empty disables
	// scheduled retraining.
	Schedule           string `yaml:"schedule"`
	InvalidateAfterRun bool   `yaml:"invalidate_after_run"`
}

func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "data/cases.db",
		},
		Models: ModelsConfig{
			Dir:       "models",
			CacheSize: outbreak.DefaultCacheSize,
		},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			AllowedOrigins:  []string{"*"},
		},
		Training: TrainingConfig{
			MinObservations: ml.DefaultMinObservations,
			Forest:          ml.DefaultForestConfig(),
		},
		Log:      logging.DefaultConfig(),
		Language: "en",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults, .env and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given files, skipping any that do not
// exist. Variables already set in the environment win.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from OUTBREAK_* variables using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDBDriver); ok && v != "" {
		c.Database.Driver = v
	}
	if v, ok := lookup(EnvDBDSN); ok {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvModelDir); ok && v != "" {
		c.Models.Dir = v
	}
	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHTTPPort, err)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLanguage); ok && v != "" {
		c.Language = v
	}
	if v, ok := lookup(EnvSchedule); ok {
		c.Training.Schedule = v
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Models.Dir == "" {
		return errors.New("models.dir is required")
	}
	if c.Models.CacheSize < 0 {
		return errors.New("models.cache_size must not be negative")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Training.MinObservations < 0 {
		return errors.New("training.min_observations must not be negative")
	}
	if c.Training.Schedule != "" {
		if _, err := cron.ParseStandard(c.Training.Schedule); err != nil {
			return fmt.Errorf("training.schedule: %w", err)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

func (c Config) TrainerConfig() outbreak.TrainerConfig {
	return outbreak.TrainerConfig{
		MinObservations: c.Training.MinObservations,
		Forest:          c.Training.Forest,
	}
}

func (c Config) PredictorConfig() outbreak.PredictorConfig {
	return outbreak.PredictorConfig{
		CacheSize: c.Models.CacheSize,
		Language:  c.Language,
	}
}

package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Type         string `yaml:"type" toml:"type" json:"type"`
	Host         string `yaml:"host" toml:"host" json:"host"`
	Port         int    `yaml:"port" toml:"port" json:"port"`
	Username     string `yaml:"username" toml:"username" json:"username"`
	Password     string `yaml:"password" toml:"password" json:"password"`
	DatabaseName string `yaml:"database_name" toml:"database_name" json:"database_name"`
	DSN          string `yaml:"dsn" toml:"dsn" json:"dsn"` // optional explicit DSN
}

// ModelConfig configures the language-model backend and how it is called.
type ModelConfig struct {
	Provider           string  `yaml:"provider" toml:"provider" json:"provider"`
	Model              string  `yaml:"model" toml:"model" json:"model"`
	APIKey             string  `yaml:"api_key" toml:"api_key" json:"-"`
	Temperature        float64 `yaml:"temperature" toml:"temperature" json:"temperature"`
	TopP               float64 `yaml:"top_p" toml:"top_p" json:"top_p"`
	MaxOutputTokens    int     `yaml:"max_output_tokens" toml:"max_output_tokens" json:"max_output_tokens"`
	ThinkingBudget     int     `yaml:"thinking_budget" toml:"thinking_budget" json:"thinking_budget"`
	MaximumRemoteCalls int     `yaml:"maximum_remote_calls" toml:"maximum_remote_calls" json:"maximum_remote_calls"`
	Seed               *int64  `yaml:"seed" toml:"seed" json:"seed,omitempty"`
	MaxRetries         int     `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" toml:"requests_per_second" json:"requests_per_second"`
}

// AnalysisConfig bounds the work done against the database.
type AnalysisConfig struct {
	Schemas               []string `yaml:"schemas" toml:"schemas" json:"schemas"` // empty means all
	Concurrency           int      `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
	ConnectTimeoutSeconds int      `yaml:"connect_timeout_seconds" toml:"connect_timeout_seconds" json:"connect_timeout_seconds"`
	QueryTimeoutSeconds   int      `yaml:"query_timeout_seconds" toml:"query_timeout_seconds" json:"query_timeout_seconds"`
	MaxRows               int      `yaml:"max_rows" toml:"max_rows" json:"max_rows"`
	CacheEntries          int64    `yaml:"cache_entries" toml:"cache_entries" json:"cache_entries"`
}

type LogConfig struct {
	Level string `yaml:"level" toml:"level" json:"level"`
}

type AppConfig struct {
	Database DBConfig       `yaml:"database" toml:"database" json:"database"`
	Model    ModelConfig    `yaml:"model" toml:"model" json:"model"`
	Analysis AnalysisConfig `yaml:"analysis" toml:"analysis" json:"analysis"`
	Log      LogConfig      `yaml:"log" toml:"log" json:"log"`
}

// Defaults returns the configuration used for any key a file leaves unset.
func Defaults() AppConfig {
	return AppConfig{
		Model: ModelConfig{
			Provider:           "anthropic",
			Model:              "claude-sonnet-4-5",
			Temperature:        1.0,
			TopP:               0.5,
			MaxOutputTokens:    8192,
			MaximumRemoteCalls: 10,
			MaxRetries:         3,
			RequestsPerSecond:  2,
		},
		Analysis: AnalysisConfig{
			Concurrency:           8,
			ConnectTimeoutSeconds: 10,
			QueryTimeoutSeconds:   30,
			MaxRows:               100,
			CacheEntries:          4096,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadFile loads a YAML or TOML config from path, by extension, on top of
// Defaults. TOML files may not contain unknown keys.
func LoadFile(path string) (AppConfig, error) {
	cfg := Defaults()
	f, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(f), &cfg)
		if err != nil {
			return AppConfig{}, fmt.Errorf("parse config: %w", err)
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			keys := make([]string, len(unknown))
			for i, k := range unknown {
				keys[i] = k.String()
			}
			return AppConfig{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
		}
	default:
		if err := yaml.Unmarshal(f, &cfg); err != nil {
			return AppConfig{}, err
		}
	}
	cfg.Model.APIKey = cmp.Or(cfg.Model.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	return cfg, nil
}

// Validate reports every setting that is out of range.
func (c AppConfig) Validate() error {
	var errs []error
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		errs = append(errs, fmt.Errorf("model.temperature must be within [0, 1], got %v", c.Model.Temperature))
	}
	if c.Model.TopP < 0 || c.Model.TopP > 1 {
		errs = append(errs, fmt.Errorf("model.top_p must be within [0, 1], got %v", c.Model.TopP))
	}
	if c.Model.MaximumRemoteCalls < 1 {
		errs = append(errs, errors.New("model.maximum_remote_calls must be at least 1"))
	}
	if c.Model.MaxRetries < 1 {
		errs = append(errs, errors.New("model.max_retries must be at least 1"))
	}
	if c.Model.ThinkingBudget < 0 {
		errs = append(errs, errors.New("model.thinking_budget must not be negative"))
	}
	switch c.Model.Provider {
	case "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider must be one of: anthropic, got %q", c.Model.Provider))
	}
	if c.Analysis.Concurrency < 1 {
		errs = append(errs, errors.New("analysis.concurrency must be at least 1"))
	}
	if c.Analysis.MaxRows < 1 {
		errs = append(errs, errors.New("analysis.max_rows must be at least 1"))
	}
	return errors.Join(errs...)
}

func (a AnalysisConfig) ConnectTimeout() time.Duration {
	return time.Duration(a.ConnectTimeoutSeconds) * time.Second
}

func (a AnalysisConfig) QueryTimeout() time.Duration {
	return time.Duration(a.QueryTimeoutSeconds) * time.Second
}

// NormalizeDriver maps common aliases to canonical keys (keeps backwards compat).
func NormalizeDriver(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "postgresql", "pg", "postgres":
		return "postgres"
	case "pgx":
		return "pgx"
	case "mysql", "mariadb":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mssql", "sqlserver":
		return "sqlserver"
	case "godror", "oracle":
		return "godror"
	default:
		return strings.ToLower(d)
	}
}

// BuildDriverAndDSN produces a driver name and DSN string for supported DB types.
func BuildDriverAndDSN(db DBConfig) (driver string, dsn string, err error) {
	// If explicit DSN provided, user must also set Type to choose driver or we guess
	t := NormalizeDriver(db.Type)

	if db.DSN != "" {
		return t, db.DSN, nil
	}

	switch t {
	case "postgres", "pgx":
		driver = t
		// simple URL form
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "mysql":
		driver = "mysql"
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "sqlite":
		driver = "sqlite"
		if db.DatabaseName == "" {
			return "", "", fmt.Errorf("sqlite needs a file path in database_name")
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", db.DatabaseName)
	case "sqlserver":
		driver = "sqlserver"
		dsn = fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	case "godror":
		driver = "godror"
		// simple EZCONNECT style; may need adjustments per environment
		dsn = fmt.Sprintf("%s/%s@%s:%d/%s",
			db.Username, db.Password, db.Host, db.Port, db.DatabaseName)
	default:
		err = fmt.Errorf("unsupported database type: %s", db.Type)
	}
	return
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "promemoria"
	configFile = "config.yaml"
)

// Backend names.
const (
	BackendLocal     = "local"
	BackendFirestore = "firestore"
	BackendDynamoDB  = "dynamodb"
	BackendPostgres  = "postgres"
)

type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

type DynamoDBConfig struct {
	Region string `yaml:"region"`
	Table  string `yaml:"table"`
	// Endpoint overrides the AWS endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint,omitempty"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// BreakerConfig tunes the circuit breaker wrapped around remote calls.
type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type Config struct {
	// Backend is one of local, firestore, dynamodb, postgres.
	Backend string `yaml:"backend"`
	// DataDir holds the local copy of the appointments. Empty means ~/.config/promemoria.
	DataDir    string `yaml:"data_dir,omitempty"`
	StorageKey string `yaml:"storage_key"`

	Locale   string `yaml:"locale"`
	Timezone string `yaml:"timezone,omitempty"`

	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a reverse proxy that sets those headers.
	TrustProxy bool `yaml:"trust_proxy,omitempty"`
	// Refresh is a cron spec for re-reading the remote collection while serving.
	// Empty disables it.
	Refresh string `yaml:"refresh,omitempty"`

	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level,omitempty"`

	Firestore FirestoreConfig `yaml:"firestore"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend:     BackendLocal,
		StorageKey:  "promemoria-impegni",
		Locale:      "it",
		Listen:      "127.0.0.1:8080",
		CORSOrigins: []string{"*"},
		Environment: "development",
		Firestore:   FirestoreConfig{Collection: "appointments"},
		DynamoDB:    DynamoDBConfig{Region: "eu-south-1", Table: "appointments"},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 3,
		},
		RateLimit: RateLimitConfig{PerSecond: 5, Burst: 10},
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.StorageKey == "" {
		c.StorageKey = d.StorageKey
	}
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = d.CORSOrigins
	}
	if c.Environment == "" {
		c.Environment = d.Environment
	}
	if c.Firestore.Collection == "" {
		c.Firestore.Collection = d.Firestore.Collection
	}
	if c.DynamoDB.Region == "" {
		c.DynamoDB.Region = d.DynamoDB.Region
	}
	if c.DynamoDB.Table == "" {
		c.DynamoDB.Table = d.DynamoDB.Table
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = d.Breaker.MaxRequests
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = d.Breaker.Interval
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = d.Breaker.Timeout
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = d.Breaker.FailureThreshold
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = d.RateLimit.PerSecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = d.RateLimit.Burst
	}
}

// Validate checks that the selected backend has what it needs.
// CheckBackend rejects names that are not a known backend.
func CheckBackend(name string) error {
	switch name {
	case BackendLocal, BackendFirestore, BackendDynamoDB, BackendPostgres:
		return nil
	}
	return fmt.Errorf("unknown backend %q", name)
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal:
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return errors.New("firestore backend requires firestore.project_id")
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" || c.DynamoDB.Region == "" {
			return errors.New("dynamodb backend requires dynamodb.table and dynamodb.region")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres backend requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	if c.Refresh != "" {
		if _, err := cron.ParseStandard(c.Refresh); err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", c.Refresh, err)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// IsRemote reports whether a remote backend is selected.
func (c *Config) IsRemote() bool {
	return c.Backend != BackendLocal
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName, configFile), nil
}

// Load reads the YAML config at path (the default path when empty), applies
// environment overrides and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

// LoadFile is Load without environment overrides, for rewriting the file.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Backend, "PROMEMORIA_BACKEND")
	setString(&c.DataDir, "PROMEMORIA_DATA_DIR")
	setString(&c.StorageKey, "PROMEMORIA_STORAGE_KEY")
	setString(&c.Locale, "PROMEMORIA_LOCALE")
	setString(&c.Timezone, "PROMEMORIA_TIMEZONE")
	setString(&c.Listen, "PROMEMORIA_LISTEN")
	setString(&c.Refresh, "PROMEMORIA_REFRESH")
	setString(&c.Environment, "PROMEMORIA_ENV")
	setString(&c.LogLevel, "PROMEMORIA_LOG_LEVEL")
	setString(&c.Firestore.ProjectID, "FIRESTORE_PROJECT_ID")
	setString(&c.Firestore.Collection, "FIRESTORE_COLLECTION")
	setString(&c.DynamoDB.Region, "AWS_REGION")
	setString(&c.DynamoDB.Table, "DYNAMODB_TABLE")
	setString(&c.DynamoDB.Endpoint, "DYNAMODB_ENDPOINT")
	setString(&c.Postgres.DSN, "POSTGRES_DSN")

	if v := os.Getenv("PROMEMORIA_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("PROMEMORIA_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PROMEMORIA_TRUST_PROXY %q: %w", v, err)
		}
		c.TrustProxy = trust
	}
	if v := os.Getenv("PROMEMORIA_RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PROMEMORIA_RATE_LIMIT %q: %w", v, err)
		}
		c.RateLimit.PerSecond = rps
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Save writes cfg to path (the default path when empty) through a temp file
// and a rename, with 0600 permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".promemoria-config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

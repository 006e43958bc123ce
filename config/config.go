package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL     = "https://smartview.ccc.govt.nz"
	defaultSitesPath   = "/app/router/map_features.php?feat=ecocounter"
	defaultCountsPath  = "/app/router/ecocounter.php?type=ecocounter"
	defaultHTTPTimeout = 60 * time.Second
	defaultLogMaxBytes = 2 * 1024 * 1024
)

type Config struct {
	Source     SourceConfig
	Proxy      ProxyConfig
	Scheduler  SchedulerConfig
	S3         S3Config
	DBPath     string
	ExportPath string
	Refresh    bool
	ResetDB    bool
	LogPath    string
	LogMaxSize int64

	// Postgres mirror of the export, disabled when empty.
	DatabaseURL string
	MetricsAddr string
}

// SourceConfig describes the upstream SmartView endpoints.
type SourceConfig struct {
	BaseURL    string        `yaml:"base_url"`
	SitesPath  string        `yaml:"sites_path"`
	CountsPath string        `yaml:"counts_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Cron string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	timeout, err := getEnvDuration("HTTP_TIMEOUT", defaultHTTPTimeout)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Source: SourceConfig{
			BaseURL:    getEnv("ECOCOUNTER_BASE_URL", defaultBaseURL),
			SitesPath:  defaultSitesPath,
			CountsPath: defaultCountsPath,
			Timeout:    timeout,
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("HTTP_PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCHEDULE_CRON"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          os.Getenv("S3_PREFIX"),
		},
		DBPath:      getEnv("DB_PATH", "cycling.db"),
		ExportPath:  getEnv("EXPORT_PATH", "cycling-counters.parquet"),
		Refresh:     getEnvBool("REFRESH", true),
		ResetDB:     getEnvBool("RESET_DB", false),
		LogPath:     getEnv("LOG_PATH", "ingest.log"),
		LogMaxSize:  int64(getEnvInt("LOG_MAX_BYTES", defaultLogMaxBytes)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
	}

	if err := cfg.loadSourceFile(getEnv("CONFIG_FILE", "config/ecocounter.yaml")); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSourceFile overrides endpoint settings from an optional YAML file.
func (c *Config) loadSourceFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var file struct {
		Source SourceConfig `yaml:"source"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if file.Source.BaseURL != "" {
		c.Source.BaseURL = file.Source.BaseURL
	}
	if file.Source.SitesPath != "" {
		c.Source.SitesPath = file.Source.SitesPath
	}
	if file.Source.CountsPath != "" {
		c.Source.CountsPath = file.Source.CountsPath
	}
	if file.Source.Timeout > 0 {
		c.Source.Timeout = file.Source.Timeout
	}
	return nil
}

func (c *Config) validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("ECOCOUNTER_BASE_URL is required")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.ExportPath == "" {
		return fmt.Errorf("EXPORT_PATH is required")
	}
	if c.S3.Enabled() && (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

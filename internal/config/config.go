package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/ai"
)

type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		// AccessToken, when set, is required as a bearer token on /api routes.
		AccessToken string `yaml:"access_token"`
	} `yaml:"server"`

	Database struct {
		// Driver is sqlite, mysql or postgres.
		Driver   string `yaml:"driver"`
		Path     string `yaml:"path"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	AI struct {
		// Provider is openai or mock.
		Provider       string `yaml:"provider"`
		BaseURL        string `yaml:"base_url"`
		ai.ModelConfig `yaml:",inline"`
		TimeoutRaw     string        `yaml:"timeout"`
		Timeout        time.Duration `yaml:"-"`
	} `yaml:"ai"`

	Renderer struct {
		MaxPages int     `yaml:"max_pages"`
		DPI      float64 `yaml:"dpi"`
	} `yaml:"renderer"`

	Watcher struct {
		Folder            string        `yaml:"folder"`
		StableIntervalRaw string        `yaml:"stable_interval"`
		StableInterval    time.Duration `yaml:"-"`
		StableChecks      int           `yaml:"stable_checks"`
	} `yaml:"watcher"`

	Queue struct {
		Size int `yaml:"size"`
	} `yaml:"queue"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Default returns a configuration that runs fully locally: SQLite next to
// the working directory, OpenAI provider, no archive.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "datasheet-lens.db"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "datasheet-lens"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o"
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 4096
	}
	if c.AI.Detail == "" {
		c.AI.Detail = "high"
	}
	if c.Renderer.MaxPages == 0 {
		c.Renderer.MaxPages = 6
	}
	if c.Renderer.DPI == 0 {
		c.Renderer.DPI = 150
	}
	if c.Watcher.StableInterval == 0 {
		c.Watcher.StableInterval = 500 * time.Millisecond
	}
	if c.Watcher.StableChecks == 0 {
		c.Watcher.StableChecks = 2
	}
	if c.Queue.Size == 0 {
		c.Queue.Size = 128
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Load reads a YAML config file. ${VAR} references are expanded from the
// environment before parsing; missing keys take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

func parseDurations(c *Config) error {
	var err error
	if c.AI.TimeoutRaw != "" {
		if c.AI.Timeout, err = time.ParseDuration(c.AI.TimeoutRaw); err != nil {
			return fmt.Errorf("ai.timeout %q: %w", c.AI.TimeoutRaw, err)
		}
	}
	if c.Watcher.StableIntervalRaw != "" {
		if c.Watcher.StableInterval, err = time.ParseDuration(c.Watcher.StableIntervalRaw); err != nil {
			return fmt.Errorf("watcher.stable_interval %q: %w", c.Watcher.StableIntervalRaw, err)
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.AI.Provider {
	case "openai", "mock":
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}
	switch c.AI.Detail {
	case "low", "high", "auto":
	default:
		return fmt.Errorf("ai.detail must be low, high or auto, got %q", c.AI.Detail)
	}
	if c.AI.Timeout < 0 {
		return errors.New("ai.timeout must not be negative")
	}
	if c.Renderer.MaxPages < 0 || c.Renderer.DPI < 0 {
		return errors.New("renderer.max_pages and renderer.dpi must not be negative")
	}
	if c.Watcher.StableChecks < 1 || c.Watcher.StableInterval <= 0 {
		return errors.New("watcher.stable_checks and watcher.stable_interval must be positive")
	}
	if c.Queue.Size < 1 {
		return errors.New("queue.size must be positive")
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		return errors.New("minio.endpoint is required when minio is enabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

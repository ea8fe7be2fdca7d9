package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RateLimitPerMinute caps /v1 requests per client IP; it needs Redis.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ScraperConfig struct {
	UserAgent        string `yaml:"userAgent"`
	TimeoutMs        int    `yaml:"timeoutMs"`
	InspectTimeoutMs int    `yaml:"inspectTimeoutMs"`
	ProbeTimeoutMs   int    `yaml:"probeTimeoutMs"`
	RespectRobots    bool   `yaml:"respectRobots"`
}

type RodConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrowserURL string `yaml:"browserURL"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig selects the AI response cache backend.
type CacheConfig struct {
	Backend  string `yaml:"backend"`
	TTLHours int    `yaml:"ttlHours"`
}

// ProviderConfig describes one AI backend. The order of providers in the
// file is the fallback priority.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	APIKey    string `yaml:"apiKey"`
	BaseURL   string `yaml:"baseURL"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

type AIConfig struct {
	MaxRetries     int              `yaml:"maxRetries"`
	InitialDelayMs int              `yaml:"initialDelayMs"`
	Temperature    float64          `yaml:"temperature"`
	MaxTokens      int              `yaml:"maxTokens"`
	Providers      []ProviderConfig `yaml:"providers"`
}

type WorkerConfig struct {
	PollIntervalMs           int `yaml:"pollIntervalMs"`
	RetentionIntervalMinutes int `yaml:"retentionIntervalMinutes"`
	RunRetentionDays         int `yaml:"runRetentionDays"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Rod      RodConfig      `yaml:"rod"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	AI       AIConfig       `yaml:"ai"`
	Worker   WorkerConfig   `yaml:"worker"`
}

const defaultUserAgent = "Mozilla/5.0 (compatible; PagesentryBot/1.0; +https://github.com/pagesentry)"

// Parse decodes YAML config bytes, expanding ${VAR} references from the
// environment first, and fills defaults for unset values.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	return Parse(data)
}

// MustLoad is Load for main packages.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Default returns a config with only defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = defaultUserAgent
	}
	if c.Scraper.TimeoutMs <= 0 {
		c.Scraper.TimeoutMs = 45000
	}
	if c.Scraper.InspectTimeoutMs <= 0 {
		c.Scraper.InspectTimeoutMs = 20000
	}
	if c.Scraper.ProbeTimeoutMs <= 0 {
		c.Scraper.ProbeTimeoutMs = 5000
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLHours <= 0 {
		c.Cache.TTLHours = 7 * 24
	}
	if c.AI.MaxRetries <= 0 {
		c.AI.MaxRetries = 3
	}
	if c.AI.InitialDelayMs <= 0 {
		c.AI.InitialDelayMs = 1000
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 2000
	}
	for i := range c.AI.Providers {
		p := &c.AI.Providers[i]
		if p.Kind == "" {
			p.Kind = p.Name
		}
		if p.TimeoutMs <= 0 {
			p.TimeoutMs = 30000
		}
	}
	if c.Worker.PollIntervalMs <= 0 {
		c.Worker.PollIntervalMs = 60000
	}
	if c.Worker.RetentionIntervalMinutes <= 0 {
		c.Worker.RetentionIntervalMinutes = 60
	}
	if c.Worker.RunRetentionDays <= 0 {
		c.Worker.RunRetentionDays = 30
	}
}

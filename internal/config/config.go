// Package config provides YAML-based configuration loading for Jobscout.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the CLI reads when -c is not given.
const DefaultPath = "jobscout.yaml"

// Config is the top-level Jobscout configuration, loaded from jobscout.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Engine   EngineConfig   `yaml:"engine"`
	LLM      LLMConfig      `yaml:"llm"`
	Search   SearchConfig   `yaml:"search"`
	Batch    BatchConfig    `yaml:"batch"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig holds HTTP listener settings and per-client request limits.
type ServerConfig struct {
	Port            int   `yaml:"port"`
	ChatPerMinute   int   `yaml:"chat_per_minute"`
	UploadPerMinute int   `yaml:"upload_per_minute"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes"`
}

// DatabaseConfig selects the durable store. Driver is "sqlite" or "mysql".
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// CacheConfig bounds the in-memory execution context cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
	TTLSec   int `yaml:"ttl_sec"`
	Shards   int `yaml:"shards"`
}

// TTL returns the entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

// EngineConfig tunes the orchestration engine.
type EngineConfig struct {
	LockTimeoutSec     int `yaml:"lock_timeout_sec"`
	ApprovalTTLSec     int `yaml:"approval_ttl_sec"` // 0 uses the broker default
	MaxTurnsPerSession int `yaml:"max_turns_per_session"`
	DocumentChars      int `yaml:"document_chars"`
	MaxResults         int `yaml:"max_results"`
}

// LLMConfig configures the text-completion capability. Provider is
// "openai" (any OpenAI-compatible endpoint) or "mock".
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// SearchConfig holds credentials for the external search and scrape providers.
type SearchConfig struct {
	TavilyKey    string `yaml:"tavily_key"`
	BraveKey     string `yaml:"brave_key"`
	FirecrawlKey string `yaml:"firecrawl_key"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	MaxPerQuery  int    `yaml:"max_per_query"`
}

// Timeout returns the per-request provider timeout.
func (c SearchConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// BatchConfig schedules unattended searches for every owner with a profile.
type BatchConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Cron        string `yaml:"cron"`
	Concurrency int    `yaml:"concurrency"`
}

// NotifyConfig lists digest destinations. Empty values disable a notifier.
type NotifyConfig struct {
	SlackWebhook   string `yaml:"slack_webhook"`
	DiscordToken   string `yaml:"discord_token"`
	DiscordChannel string `yaml:"discord_channel"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. ${VAR} references are
// expanded from the environment before parsing.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a validated configuration suitable for local development:
// a sqlite file store and the mock completion provider.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ChatPerMinute == 0 {
		c.Server.ChatPerMinute = 5
	}
	if c.Server.UploadPerMinute == 0 {
		c.Server.UploadPerMinute = 3
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 5 << 20
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "jobscout.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}

	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 200
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 3600
	}
	if c.Cache.Shards == 0 {
		c.Cache.Shards = 8
	}

	if c.Engine.LockTimeoutSec == 0 {
		c.Engine.LockTimeoutSec = 90
	}
	if c.Engine.MaxTurnsPerSession == 0 {
		c.Engine.MaxTurnsPerSession = 200
	}
	if c.Engine.DocumentChars == 0 {
		c.Engine.DocumentChars = 4000
	}
	if c.Engine.MaxResults == 0 {
		c.Engine.MaxResults = 15
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "mock"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.TimeoutSec == 0 {
		c.LLM.TimeoutSec = 120
	}

	if c.Search.TimeoutSec == 0 {
		c.Search.TimeoutSec = 30
	}
	if c.Search.MaxPerQuery == 0 {
		c.Search.MaxPerQuery = 8
	}

	if c.Batch.Cron == "" {
		c.Batch.Cron = "0 8 * * 1-5"
	}
	if c.Batch.Concurrency == 0 {
		c.Batch.Concurrency = 2
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ChatPerMinute < 0 || c.Server.UploadPerMinute < 0 {
		errs = append(errs, "server rate limits must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "mysql":
		if c.Database.Database == "" {
			errs = append(errs, "database.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}

	if c.Cache.Capacity < 0 || c.Cache.TTLSec < 0 || c.Cache.Shards < 0 {
		errs = append(errs, "cache values must not be negative")
	}
	if c.Engine.ApprovalTTLSec < 0 {
		errs = append(errs, "engine.approval_ttl_sec must not be negative")
	}

	switch c.LLM.Provider {
	case "mock":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, "llm.api_key is required for the openai provider")
		}
		if c.LLM.Model == "" {
			errs = append(errs, "llm.model is required for the openai provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q must be openai or mock", c.LLM.Provider))
	}

	if c.Batch.Enabled {
		if _, err := CronParser.Parse(c.Batch.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("batch.cron %q: %v", c.Batch.Cron, err))
		}
	}
	if c.Notify.DiscordToken != "" && c.Notify.DiscordChannel == "" {
		errs = append(errs, "notify.discord_channel is required when discord_token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Env  string `envconfig:"APP_ENV" default:"production"`
	Port string `envconfig:"PORT" default:"3000"`

	BotToken             string `envconfig:"BOT_TOKEN" required:"true"`
	MaxConcurrentUpdates int    `envconfig:"MAX_CONCURRENT_UPDATES" default:"32"`
	MaxUploadBytes       int64  `envconfig:"MAX_UPLOAD_BYTES" default:"20971520"`

	Knowledge KnowledgeConfig
	Renderer  RendererConfig
	RateLimit RateLimitConfig

	SessionClearInterval time.Duration `envconfig:"SESSION_CLEAR_INTERVAL" default:"24h"`

	CatalogPath  string `envconfig:"CATALOG_PATH"`
	TemplatesDir string `envconfig:"TEMPLATES_DIR" default:"./data/templates"`
	SourcesDir   string `envconfig:"SOURCES_DIR" default:"./data/sources"`
	DBPath       string `envconfig:"DB_PATH" default:"./data/desk.db"`
	RedisURL     string `envconfig:"REDIS_URL"`

	StaffAPIToken string   `envconfig:"STAFF_API_TOKEN"`
	CORSOrigins   []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// KnowledgeConfig points at the external knowledge service.
type KnowledgeConfig struct {
	BaseURL string        `envconfig:"LLM_API_URL" required:"true"`
	Timeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// RendererConfig points at the diagram renderer.
type RendererConfig struct {
	BaseURL string        `envconfig:"MERMAID_RENDERER_URL" default:"https://kroki.io"`
	Format  string        `envconfig:"MERMAID_FORMAT" default:"png"`
	Timeout time.Duration `envconfig:"RENDER_TIMEOUT" default:"30s"`
}

// RateLimitConfig controls per-user admission.
type RateLimitConfig struct {
	RequestsPerWindow int           `envconfig:"RATE_LIMIT_REQUESTS" default:"5"`
	WindowDuration    time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.Knowledge.BaseURL); err != nil {
		return fmt.Errorf("LLM_API_URL is not a valid URL: %w", err)
	}
	if _, err := url.ParseRequestURI(c.Renderer.BaseURL); err != nil {
		return fmt.Errorf("MERMAID_RENDERER_URL is not a valid URL: %w", err)
	}
	switch strings.ToLower(c.Renderer.Format) {
	case "png", "jpeg":
	default:
		return fmt.Errorf("MERMAID_FORMAT must be png or jpeg, got %q", c.Renderer.Format)
	}
	if c.Knowledge.Timeout <= 0 || c.Renderer.Timeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT and RENDER_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SessionClearInterval <= 0 {
		return fmt.Errorf("SESSION_CLEAR_INTERVAL must be > 0")
	}
	if c.MaxConcurrentUpdates <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_UPDATES must be > 0")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

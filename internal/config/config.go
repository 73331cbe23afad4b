package config

import (
	"strings"
	"time"

	"github.com/docpilot/docpilot/internal/throttle"
)

// Config represents the complete application configuration. Values come from
// defaults, then the user config file, then DOCPILOT_* environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Store    StoreConfig    `mapstructure:"store"`
	Watsonx  WatsonxConfig  `mapstructure:"watsonx"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Retry    RetryConfig    `mapstructure:"retry"`
	RAG      RAGConfig      `mapstructure:"rag"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	// AdminToken enables the throttle admin endpoints when set.
	AdminToken string `mapstructure:"admin_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: simple, structured
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig selects the content store backend.
//
// Driver is one of memory, noop or libsql. Path and URL apply to libsql only.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// WatsonxConfig groups the backend endpoints and credentials.
type WatsonxConfig struct {
	IAM        IAMConfig        `mapstructure:"iam"`
	Generative GenerativeConfig `mapstructure:"generative"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
}

// IAMConfig exchanges an API key for bearer tokens.
type IAMConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// GenerativeConfig configures the text generation client.
type GenerativeConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	AccessToken string        `mapstructure:"access_token"`
	APIKey      string        `mapstructure:"api_key"`
	ProjectID   string        `mapstructure:"project_id"`
	ModelID     string        `mapstructure:"model_id"`
	BatchSize   int           `mapstructure:"batch_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// DiscoveryConfig configures the Discovery client and retrieval defaults.
type DiscoveryConfig struct {
	URL                 string        `mapstructure:"url"`
	APIKey              string        `mapstructure:"api_key"`
	AccessToken         string        `mapstructure:"access_token"`
	Version             string        `mapstructure:"version"`
	ProjectID           string        `mapstructure:"project_id"`
	DefaultCollectionID string        `mapstructure:"default_collection_id"`
	DocumentCount       int           `mapstructure:"document_count"`
	PassageCount        int           `mapstructure:"passage_count"`
	AnswerCount         int           `mapstructure:"answer_count"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// ThrottleConfig holds one limiter per metered backend.
type ThrottleConfig struct {
	Generative LimiterConfig `mapstructure:"generative"`
	Discovery  LimiterConfig `mapstructure:"discovery"`
}

// LimiterConfig describes a single limiter.
type LimiterConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
	Mode     string        `mapstructure:"mode"`
	Enabled  bool          `mapstructure:"enabled"`
}

// Throttle converts the section into a limiter configuration.
func (c LimiterConfig) Throttle(name string) throttle.Config {
	return throttle.Config{
		Name:     name,
		Limit:    c.Limit,
		Interval: c.Interval,
		Mode:     throttle.Mode(strings.ToLower(strings.TrimSpace(c.Mode))),
	}
}

// RetryConfig configures retries of rate-limited calls.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	MaxJitter  time.Duration `mapstructure:"max_jitter"`
}

// Retries returns MaxRetries for retry.Options, where zero means the
// default. A configured zero becomes -1 so no retry is made.
func (c RetryConfig) Retries() int {
	if c.MaxRetries == 0 {
		return -1
	}
	return c.MaxRetries
}

// RAGConfig configures answer generation.
type RAGConfig struct {
	// PromptsDir holds user prompt overrides; empty uses the embedded prompts.
	PromptsDir    string `mapstructure:"prompts_dir"`
	DefaultPrompt string `mapstructure:"default_prompt"`
}

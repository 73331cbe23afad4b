// Package config provides centralized configuration management for docpilot.
//
// Values are layered: built-in defaults, then the user config file
// ($XDG_CONFIG_HOME/docpilot/config.yaml or --config), then DOCPILOT_*
// environment variables. The unprefixed variable names used by earlier
// deployments (DISCOVERY_PROJECT_ID, WLM_ENDPOINT, ...) are honoured as aliases.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is used for config, data and cache directories.
	AppName = "docpilot"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DOCPILOT"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv maps config keys to unprefixed variable names.
var legacyEnv = map[string][]string{
	"watsonx.iam.api_key":                     {"IBM_CLOUD_API_KEY"},
	"watsonx.generative.endpoint":             {"WLM_ENDPOINT", "WML_ENDPOINT"},
	"watsonx.generative.access_token":         {"WML_ACCESS_TOKEN"},
	"watsonx.generative.project_id":           {"WLM_PROJECT_ID"},
	"watsonx.generative.model_id":             {"WLM_MODEL_ID"},
	"watsonx.generative.batch_size":           {"WLM_BATCH_SIZE"},
	"watsonx.discovery.url":                   {"DISCOVERY_SERVICE_URL"},
	"watsonx.discovery.api_key":               {"DISCOVERY_API_KEY"},
	"watsonx.discovery.version":               {"DISCOVERY_VERSION"},
	"watsonx.discovery.project_id":            {"DISCOVERY_PROJECT_ID"},
	"watsonx.discovery.default_collection_id": {"DISCOVERY_DEFAULT_COLLECTION_ID", "DISCOVERY_COLLECTION_ID"},
	"watsonx.discovery.document_count":        {"DISCOVERY_DOCUMENT_COUNT"},
	"watsonx.discovery.passage_count":         {"DISCOVERY_PASSAGE_COUNT"},
	"watsonx.discovery.answer_count":          {"DISCOVERY_ANSWER_COUNT"},
}

// SetDefaults registers default values and environment bindings on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics and health
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)

	// Store defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Backend defaults
	v.SetDefault("watsonx.iam.url", "https://iam.cloud.ibm.com/identity/token")
	v.SetDefault("watsonx.iam.api_key", "")
	v.SetDefault("watsonx.generative.endpoint", "https://us-south.ml.cloud.ibm.com/ml/v1/text/generation?version=2023-05-29")
	v.SetDefault("watsonx.generative.access_token", "")
	v.SetDefault("watsonx.generative.api_key", "")
	v.SetDefault("watsonx.generative.project_id", "")
	v.SetDefault("watsonx.generative.model_id", "granite-13b-chat-v1")
	v.SetDefault("watsonx.generative.batch_size", 4000)
	v.SetDefault("watsonx.generative.timeout", "60s")
	v.SetDefault("watsonx.discovery.url", "")
	v.SetDefault("watsonx.discovery.api_key", "")
	v.SetDefault("watsonx.discovery.access_token", "")
	v.SetDefault("watsonx.discovery.version", "2023-03-31")
	v.SetDefault("watsonx.discovery.project_id", "")
	v.SetDefault("watsonx.discovery.default_collection_id", "")
	v.SetDefault("watsonx.discovery.document_count", 5)
	v.SetDefault("watsonx.discovery.passage_count", 5)
	v.SetDefault("watsonx.discovery.answer_count", 5)
	v.SetDefault("watsonx.discovery.timeout", "30s")

	// Throttle defaults follow the published quotas
	v.SetDefault("throttle.generative.limit", 2)
	v.SetDefault("throttle.generative.interval", "1s")
	v.SetDefault("throttle.generative.mode", "windowed")
	v.SetDefault("throttle.generative.enabled", true)
	v.SetDefault("throttle.discovery.limit", 5)
	v.SetDefault("throttle.discovery.interval", "1s")
	v.SetDefault("throttle.discovery.mode", "windowed")
	v.SetDefault("throttle.discovery.enabled", true)

	// Retry defaults
	v.SetDefault("retry.max_retries", 4)
	v.SetDefault("retry.max_jitter", "1s")

	// Prompt defaults
	v.SetDefault("rag.prompts_dir", "")
	v.SetDefault("rag.default_prompt", "rag-answer")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		_ = v.BindEnv(args...)
	}
}

// Load decodes v into a Config, validates it and makes it the current config.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		return nil, errors.New("config source is nil")
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate checks the limiter sections and the store driver.
func (c *Config) Validate() error {
	if err := c.Throttle.Generative.Throttle("generative").Validate(); err != nil {
		return fmt.Errorf("throttle.generative: %w", err)
	}
	if err := c.Throttle.Discovery.Throttle("discovery").Validate(); err != nil {
		return fmt.Errorf("throttle.discovery: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory", "noop", "libsql":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.max_upload_bytes must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

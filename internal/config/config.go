// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (ABITBOT_* prefix, runtime override)
//  2. Config file (~/.abitbot/config.yaml or --config path)
//  3. Default values
//
// Categories:
//   - Providers: priority-ordered LLM backends (see providers.go)
//   - Embedder: embedding model and vector dimension
//   - Retrieval: chunking, top-K, score threshold, history budget
//   - Storage: PostgreSQL connection (see storage.go)
//   - Admission: per-user inbound rate and outbound acquire timeout
//   - Crawler: site ingestion scope
//
// Security: passwords and API keys are masked in MarshalJSON.
// Validation: range checks with sentinel errors live in validation.go.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configDirName  = ".abitbot"
	configFileName = "config"
	configFileType = "yaml"
)

// DefaultSystemPrompt instructs the model to answer strictly from retrieved
// context, decline when the context is insufficient, and expand relative
// document links against the site base URL.
const DefaultSystemPrompt = `You are an admissions assistant. Answer the question using only the provided context passages.
Do not invent facts. If the context does not contain enough information to answer, reply exactly: "I cannot answer that yet."
Always include links to source documents when the context provides them. Links that lack a host (for example "/hello-world") must be prefixed with the site base URL.`

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// Logging
	LogLevel string `mapstructure:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`

	// HTTP transport
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Provider priority list, tried in order (see providers.go)
	Providers []ProviderConfig `mapstructure:"providers" json:"providers"`

	// Embedder configuration. Dimension is fixed per index lifetime;
	// a mismatch against the stored index config is fatal at startup.
	EmbedderProvider  string `mapstructure:"embedder_provider" json:"embedder_provider"` // "gemini" | "openai"
	EmbedderModel     string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Chunking
	ChunkMaxTokens     int `mapstructure:"chunk_max_tokens" json:"chunk_max_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`

	// Retrieval
	RetrievalK        int     `mapstructure:"retrieval_k" json:"retrieval_k"`
	RetrievalMinScore float64 `mapstructure:"retrieval_min_score" json:"retrieval_min_score"`

	// Conversation history token budget for prompt assembly
	HistoryTokenBudget int `mapstructure:"history_token_budget" json:"history_token_budget"`

	// System instruction prepended to every prompt
	SystemPrompt string `mapstructure:"system_prompt" json:"system_prompt"`

	// Completion length cap passed to providers (0 = provider default)
	MaxReplyTokens int `mapstructure:"max_reply_tokens" json:"max_reply_tokens"`

	// Admission control
	UserMessageRate     float64       `mapstructure:"user_message_rate" json:"user_message_rate"`       // messages per second per user
	UserMessageBurst    int           `mapstructure:"user_message_burst" json:"user_message_burst"`     // bucket size
	OutboundConcurrency int           `mapstructure:"outbound_concurrency" json:"outbound_concurrency"` // simultaneous in-flight pipelines
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout" json:"acquire_timeout"`           // outbound permit wait

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Crawler / ingestion scope
	Crawler CrawlerConfig `mapstructure:"crawler" json:"crawler"`

	// Refresh schedule for re-crawling sources (cron expression, empty = disabled)
	RefreshSchedule string `mapstructure:"refresh_schedule" json:"refresh_schedule"`

	// Observability (OTLP trace export; empty endpoint = disabled)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// CrawlerConfig scopes the recursive site crawler.
type CrawlerConfig struct {
	StartURL    string        `mapstructure:"start_url" json:"start_url"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url"`         // links outside this prefix are not followed
	ExcludeURLs []string      `mapstructure:"exclude_urls" json:"exclude_urls"` // URL prefixes to skip
	MaxDepth    int           `mapstructure:"max_depth" json:"max_depth"`
	UserAgent   string        `mapstructure:"user_agent" json:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"` // per-page fetch timeout
}

// Load reads configuration from file, environment and defaults.
// A missing config file is not an error — defaults plus env apply.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration, optionally from an explicit file path.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ABITBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, configDirName))
		}
		v.AddConfigPath(".")
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
			// No config file is fine - defaults and env apply.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	applyProviderEnvKeys(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("listen_addr", "127.0.0.1:3500")

	v.SetDefault("embedder_provider", "gemini")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)

	v.SetDefault("chunk_max_tokens", DefaultChunkMaxTokens)
	v.SetDefault("chunk_overlap_tokens", DefaultChunkOverlapTokens)

	v.SetDefault("retrieval_k", DefaultRetrievalK)
	v.SetDefault("retrieval_min_score", DefaultRetrievalMinScore)

	v.SetDefault("history_token_budget", DefaultHistoryTokenBudget)
	v.SetDefault("system_prompt", DefaultSystemPrompt)

	v.SetDefault("max_reply_tokens", DefaultMaxReplyTokens)

	v.SetDefault("user_message_rate", DefaultUserMessageRate)
	v.SetDefault("user_message_burst", DefaultUserMessageBurst)
	v.SetDefault("outbound_concurrency", DefaultOutboundConcurrency)
	v.SetDefault("acquire_timeout", DefaultAcquireTimeout)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "abitbot")
	v.SetDefault("postgres_db_name", "abitbot")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.timeout", 30*time.Second)
	v.SetDefault("crawler.user_agent", "abitbot/1.0")

	v.SetDefault("service_name", "abitbot")
	v.SetDefault("environment", "dev")
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	for i := range masked.Providers {
		if masked.Providers[i].APIKey != "" {
			masked.Providers[i].APIKey = "***"
		}
	}
	return json.Marshal(masked)
}

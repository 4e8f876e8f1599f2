package config

import (
	"os"
	"time"
)

// Provider name identifiers used in ProviderConfig.Name.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai" // any OpenAI-compatible endpoint
)

// Default tuning values. The chunk overlap and retrieval threshold are
// starting points to tune empirically, not contracts.
const (
	DefaultEmbedderModel     = "gemini-embedding-001"
	DefaultEmbedderDimension = 768

	DefaultChunkMaxTokens     = 400
	DefaultChunkOverlapTokens = 80

	DefaultRetrievalK        = 4
	DefaultRetrievalMinScore = 0.35

	DefaultHistoryTokenBudget = 2000

	DefaultMaxReplyTokens = 1024

	DefaultUserMessageRate  = 0.5 // one message every two seconds, sustained
	DefaultUserMessageBurst = 3

	// DefaultOutboundConcurrency caps simultaneous retrieval+completion
	// pipelines so a burst of users cannot exhaust provider quotas at once.
	DefaultOutboundConcurrency = 4

	DefaultAcquireTimeout = 30 * time.Second

	// DefaultProviderTimeout bounds a single completion call. Exceeding it
	// counts as a transient failure and triggers fallback.
	DefaultProviderTimeout = 60 * time.Second

	// DefaultProviderRPM is the outbound quota per provider when the config
	// does not specify one.
	DefaultProviderRPM = 60
)

// ProviderConfig describes one LLM backend in the priority list.
type ProviderConfig struct {
	Name    string        `mapstructure:"name" json:"name"`   // "gemini" | "openai"
	Model   string        `mapstructure:"model" json:"model"` // e.g. "gemini-2.5-flash", "gpt-4o-mini"
	APIKey  string        `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	BaseURL string        `mapstructure:"base_url" json:"base_url"` // OpenAI-compatible endpoints only
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
	RPM     int           `mapstructure:"rpm" json:"rpm"` // outbound requests per minute (quota protection)
}

// applyProviderEnvKeys fills empty API keys from conventional environment
// variables (GEMINI_API_KEY, OPENAI_API_KEY) and applies per-provider
// defaults. Ensures a usable provider list even with a minimal config file.
func applyProviderEnvKeys(cfg *Config) {
	if len(cfg.Providers) == 0 {
		cfg.Providers = []ProviderConfig{{
			Name:  ProviderGemini,
			Model: "gemini-2.5-flash",
		}}
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey == "" {
			switch p.Name {
			case ProviderGemini:
				p.APIKey = os.Getenv("GEMINI_API_KEY")
			case ProviderOpenAI:
				p.APIKey = os.Getenv("OPENAI_API_KEY")
			}
		}
		if p.Timeout <= 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.RPM <= 0 {
			p.RPM = DefaultProviderRPM
		}
	}
}

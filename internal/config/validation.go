package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrNoProviders indicates the provider priority list is empty.
	ErrNoProviders = errors.New("no providers configured")

	// ErrInvalidProvider indicates an unsupported provider name.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a provider lacks credentials.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedder indicates an invalid embedder configuration.
	ErrInvalidEmbedder = errors.New("invalid embedder configuration")

	// ErrInvalidChunking indicates chunk size/overlap out of range.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrieval indicates retrieval k or threshold out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidRate indicates an admission rate out of range.
	ErrInvalidRate = errors.New("invalid rate limit configuration")

	// ErrInvalidPostgres indicates an invalid PostgreSQL configuration.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")
)

const (
	maxChunkTokens   = 4096
	maxRetrievalK    = 50
	minEmbedderDim   = 8
	maxEmbedderDim   = 4096
	maxHistoryBudget = 1 << 20
)

// Validate checks the configuration for structural and range errors.
// API keys are checked at provider construction, not here, so that offline
// commands (sessions list, version) work without credentials.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	for i, p := range c.Providers {
		switch p.Name {
		case ProviderGemini, ProviderOpenAI:
		default:
			return fmt.Errorf("%w: providers[%d] %q (want %q or %q)",
				ErrInvalidProvider, i, p.Name, ProviderGemini, ProviderOpenAI)
		}
		if p.Model == "" {
			return fmt.Errorf("%w: providers[%d] has no model", ErrInvalidProvider, i)
		}
	}

	switch c.EmbedderProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: provider %q", ErrInvalidEmbedder, c.EmbedderProvider)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: empty model", ErrInvalidEmbedder)
	}
	if c.EmbedderDimension < minEmbedderDim || c.EmbedderDimension > maxEmbedderDim {
		return fmt.Errorf("%w: dimension %d out of range [%d, %d]",
			ErrInvalidEmbedder, c.EmbedderDimension, minEmbedderDim, maxEmbedderDim)
	}

	if c.ChunkMaxTokens <= 0 || c.ChunkMaxTokens > maxChunkTokens {
		return fmt.Errorf("%w: chunk_max_tokens %d out of range (0, %d]",
			ErrInvalidChunking, c.ChunkMaxTokens, maxChunkTokens)
	}
	if c.ChunkOverlapTokens < 0 || c.ChunkOverlapTokens >= c.ChunkMaxTokens {
		return fmt.Errorf("%w: chunk_overlap_tokens %d must be in [0, chunk_max_tokens)",
			ErrInvalidChunking, c.ChunkOverlapTokens)
	}

	if c.RetrievalK <= 0 || c.RetrievalK > maxRetrievalK {
		return fmt.Errorf("%w: retrieval_k %d out of range (0, %d]",
			ErrInvalidRetrieval, c.RetrievalK, maxRetrievalK)
	}
	if c.RetrievalMinScore < 0 || c.RetrievalMinScore > 1 {
		return fmt.Errorf("%w: retrieval_min_score %g out of range [0, 1]",
			ErrInvalidRetrieval, c.RetrievalMinScore)
	}

	if c.HistoryTokenBudget <= 0 || c.HistoryTokenBudget > maxHistoryBudget {
		return fmt.Errorf("%w: history_token_budget %d out of range", ErrInvalidRetrieval, c.HistoryTokenBudget)
	}

	if c.UserMessageRate <= 0 {
		return fmt.Errorf("%w: user_message_rate must be positive", ErrInvalidRate)
	}
	if c.UserMessageBurst <= 0 {
		return fmt.Errorf("%w: user_message_burst must be positive", ErrInvalidRate)
	}
	if c.OutboundConcurrency <= 0 {
		return fmt.Errorf("%w: outbound_concurrency must be positive", ErrInvalidRate)
	}
	if c.MaxReplyTokens < 0 {
		return fmt.Errorf("%w: max_reply_tokens must not be negative", ErrInvalidRetrieval)
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("%w: acquire_timeout must be positive", ErrInvalidRate)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidPostgres)
	}
	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidPostgres, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: empty database name", ErrInvalidPostgres)
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidLanguage indicates the answer language is not supported.
	ErrInvalidLanguage = errors.New("invalid language")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder produces vectors
	// incompatible with the stored column width.
	ErrInvalidEmbedderDimension = errors.New("incompatible embedder dimension")

	// ErrInvalidHybridAlpha indicates the vector weight is out of range.
	ErrInvalidHybridAlpha = errors.New("invalid hybrid alpha")

	// ErrInvalidMinCosine indicates the similarity floor is out of range.
	ErrInvalidMinCosine = errors.New("invalid minimum cosine similarity")

	// ErrInvalidTopK indicates the candidate count is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidRerank indicates the reranker settings are out of range.
	ErrInvalidRerank = errors.New("invalid rerank settings")

	// ErrInvalidCacheTTL indicates the cache TTL is negative.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidListenAddr indicates the HTTP listen address is empty.
	ErrInvalidListenAddr = errors.New("invalid listen address")
)

// validSSLModes are the SSL modes accepted by PostgreSQL.
var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

var validLanguages = map[string]bool{"auto": true, "en": true, "id": true}

// Validate checks the configuration and fails fast on the first
// problem. All returned errors wrap a package sentinel.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if !validLanguages[c.Language] {
		return fmt.Errorf("%w: %q (want auto, en or id)", ErrInvalidLanguage, c.Language)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}
	if c.EmbedderDimension != DefaultEmbedderDimension {
		return fmt.Errorf("%w: got %d, stored vectors are %d-dimensional",
			ErrInvalidEmbedderDimension, c.EmbedderDimension, DefaultEmbedderDimension)
	}

	if c.HybridAlpha < 0 || c.HybridAlpha > 1 {
		return fmt.Errorf("%w: %v (want [0,1])", ErrInvalidHybridAlpha, c.HybridAlpha)
	}
	if c.MinCosine < 0 || c.MinCosine > 1 {
		return fmt.Errorf("%w: %v (want [0,1])", ErrInvalidMinCosine, c.MinCosine)
	}
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: %d (want [1,20])", ErrInvalidTopK, c.TopK)
	}
	if c.RerankTopN < 0 {
		return fmt.Errorf("%w: rerank_top_n %d is negative", ErrInvalidRerank, c.RerankTopN)
	}
	if c.RerankRPS <= 0 {
		return fmt.Errorf("%w: rerank_rps %v must be positive", ErrInvalidRerank, c.RerankRPS)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidCacheTTL, c.CacheTTL)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is empty", ErrInvalidListenAddr)
	}

	return nil
}

// Package config holds OPERATOR-LEVEL configuration for a superadvisor
// installation.
//
// This is infrastructure config set by whoever deploys the service, NOT
// member or end-user data. It covers: data directory, audit signing key,
// model endpoint settings, pipeline thresholds, and the async audit queue.
// Set via env vars (SUPERADVISOR_*) or config file (superadvisor.config.yaml).
//
// Member profiles and jurisdiction rules live in the data catalog and the
// embedded country registry; they are never configured here.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Viper keys. Each maps to an env var with the SUPERADVISOR_ prefix
// (e.g. "signing_key" → SUPERADVISOR_SIGNING_KEY) and to a YAML field
// in superadvisor.config.yaml.
const (
	KeyDataDir            = "data_dir"
	KeySigningKey         = "signing_key"
	KeyModelBaseURL       = "model_base_url"
	KeyModelAPIKey        = "model_api_key"
	KeySynthesisModel     = "synthesis_model"
	KeyValidationModel    = "validation_model"
	KeyClassifierModel    = "classifier_model"
	KeyEmbeddingModel     = "embedding_model"
	KeyConfidenceGate     = "confidence_threshold"
	KeyEmbeddingThreshold = "embedding_threshold"
	KeyMaxAttempts        = "max_attempts"
	KeyAuditQueueSize     = "audit_queue_size"
	KeyAuditWorkers       = "audit_workers"
)

// Defaults that do NOT involve crypto material. The signing key intentionally
// has no baked-in default; when unset we generate a deterministic
// per-machine fallback and warn loudly.
const (
	DefaultSynthesisModel     = "gpt-4o"
	DefaultValidationModel    = "gpt-4o-mini"
	DefaultClassifierModel    = "gpt-4o-mini"
	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultConfidenceGate     = 0.70
	DefaultEmbeddingThreshold = 0.78
	DefaultMaxAttempts        = 2
	DefaultAuditQueueSize     = 64
	DefaultAuditWorkers       = 2
)

// Config holds resolved operator-level configuration for a superadvisor
// process.
type Config struct {
	DataDir            string  // Base directory for all state (~/.superadvisor)
	SigningKey         string  // HMAC-SHA256 key for audit record signing (≥32 bytes)
	ModelBaseURL       string  // Override for the model endpoint (e.g. mock server in e2e)
	ModelAPIKey        string  // API key for the model endpoint
	SynthesisModel     string  // Model used for answer synthesis
	ValidationModel    string  // Model used for the judge pass
	ClassifierModel    string  // Model used for stage-3 classification
	EmbeddingModel     string  // Model used for stage-2 embeddings
	ConfidenceGate     float64 // Validation confidence threshold T
	EmbeddingThreshold float64 // Stage-2 cosine similarity acceptance threshold
	MaxAttempts        int     // Synthesis/validation attempt bound
	AuditQueueSize     int     // Async audit logger queue capacity
	AuditWorkers       int     // Async audit logger worker count

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the audit signing key was derived
// (not set explicitly). Commands should warn when this is the case.
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// AuditDBPath returns the full path to the audit SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// CatalogDBPath returns the full path to the data catalog SQLite database.
func (c *Config) CatalogDBPath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKey logs a warning when the signing key is not explicitly set.
func (c *Config) WarnIfDefaultKey() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default SUPERADVISOR_SIGNING_KEY; set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("SUPERADVISOR")
	viper.AutomaticEnv()
	viper.SetDefault(KeySynthesisModel, DefaultSynthesisModel)
	viper.SetDefault(KeyValidationModel, DefaultValidationModel)
	viper.SetDefault(KeyClassifierModel, DefaultClassifierModel)
	viper.SetDefault(KeyEmbeddingModel, DefaultEmbeddingModel)
	viper.SetDefault(KeyConfidenceGate, DefaultConfidenceGate)
	viper.SetDefault(KeyEmbeddingThreshold, DefaultEmbeddingThreshold)
	viper.SetDefault(KeyMaxAttempts, DefaultMaxAttempts)
	viper.SetDefault(KeyAuditQueueSize, DefaultAuditQueueSize)
	viper.SetDefault(KeyAuditWorkers, DefaultAuditWorkers)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:            resolveDataDir(),
		SigningKey:         viper.GetString(KeySigningKey),
		ModelBaseURL:       viper.GetString(KeyModelBaseURL),
		ModelAPIKey:        viper.GetString(KeyModelAPIKey),
		SynthesisModel:     viper.GetString(KeySynthesisModel),
		ValidationModel:    viper.GetString(KeyValidationModel),
		ClassifierModel:    viper.GetString(KeyClassifierModel),
		EmbeddingModel:     viper.GetString(KeyEmbeddingModel),
		ConfidenceGate:     viper.GetFloat64(KeyConfidenceGate),
		EmbeddingThreshold: viper.GetFloat64(KeyEmbeddingThreshold),
		MaxAttempts:        viper.GetInt(KeyMaxAttempts),
		AuditQueueSize:     viper.GetInt(KeyAuditQueueSize),
		AuditWorkers:       viper.GetInt(KeyAuditWorkers),
	}

	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "audit-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".superadvisor"
	}
	return filepath.Join(home, ".superadvisor")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the
// data directory path and a salt. This is NOT cryptographically strong; it
// exists solely so the pipeline works out of the box while still signing
// audit records with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("superadvisor:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if len(c.SigningKey) < 32 {
		return fmt.Errorf("signing_key must be at least 32 bytes (got %d); set SUPERADVISOR_SIGNING_KEY", len(c.SigningKey))
	}
	if c.ConfidenceGate <= 0 || c.ConfidenceGate > 1 {
		return fmt.Errorf("confidence_threshold must be in (0,1] (got %v)", c.ConfidenceGate)
	}
	if c.EmbeddingThreshold <= 0 || c.EmbeddingThreshold > 1 {
		return fmt.Errorf("embedding_threshold must be in (0,1] (got %v)", c.EmbeddingThreshold)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	if c.AuditQueueSize < 1 {
		return fmt.Errorf("audit_queue_size must be positive (got %d)", c.AuditQueueSize)
	}
	if c.AuditWorkers < 1 {
		return fmt.Errorf("audit_workers must be positive (got %d)", c.AuditWorkers)
	}
	return nil
}

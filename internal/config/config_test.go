package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	keys := []string{
		KeyDataDir, KeySigningKey, KeyModelBaseURL, KeyModelAPIKey,
		KeyConfidenceGate, KeyEmbeddingThreshold, KeyMaxAttempts,
		KeyAuditQueueSize, KeyAuditWorkers,
	}
	saved := map[string]any{}
	for _, k := range keys {
		saved[k] = viper.Get(k)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			viper.Set(k, v)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSynthesisModel, cfg.SynthesisModel)
	assert.Equal(t, DefaultValidationModel, cfg.ValidationModel)
	assert.Equal(t, DefaultEmbeddingModel, cfg.EmbeddingModel)
	assert.InDelta(t, DefaultConfidenceGate, cfg.ConfidenceGate, 1e-9)
	assert.InDelta(t, DefaultEmbeddingThreshold, cfg.EmbeddingThreshold, 1e-9)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultAuditQueueSize, cfg.AuditQueueSize)
	assert.Equal(t, DefaultAuditWorkers, cfg.AuditWorkers)
}

func TestLoadDerivesSigningKeyWhenUnset(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	viper.Set(KeyDataDir, dir)
	viper.Set(KeySigningKey, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.UsingDefaultSigningKey())
	assert.GreaterOrEqual(t, len(cfg.SigningKey), 32)

	// Derived key is stable for the same data dir.
	cfg2, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.SigningKey, cfg2.SigningKey)

	// And differs for a different data dir.
	viper.Set(KeyDataDir, t.TempDir())
	cfg3, err := Load()
	require.NoError(t, err)
	assert.NotEqual(t, cfg.SigningKey, cfg3.SigningKey)
}

func TestLoadExplicitSigningKey(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.UsingDefaultSigningKey())
}

func TestLoadRejectsShortSigningKey(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing_key")
}

func TestLoadRejectsBadThresholds(t *testing.T) {
	resetViper(t)
	viper.Set(KeyDataDir, t.TempDir())
	viper.Set(KeySigningKey, "0123456789abcdef0123456789abcdef")

	viper.Set(KeyConfidenceGate, 1.5)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
	viper.Set(KeyConfidenceGate, DefaultConfidenceGate)

	viper.Set(KeyMaxAttempts, 0)
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
	viper.Set(KeyMaxAttempts, DefaultMaxAttempts)
}

func TestDBPaths(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/sa"}
	assert.Equal(t, filepath.Join("/tmp/sa", "audit.db"), cfg.AuditDBPath())
	assert.Equal(t, filepath.Join("/tmp/sa", "catalog.db"), cfg.CatalogDBPath())
}

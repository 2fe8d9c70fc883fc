package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAndSetDefaultsRequiresEncryptionKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{JWTSecret: "secret"}
	require.Error(t, cfg.CheckAndSetDefaults())
}

func TestCheckAndSetDefaultsRequiresJWTSecret(t *testing.T) {
	t.Parallel()

	cfg := &Config{EncryptionKey: "key"}
	require.Error(t, cfg.CheckAndSetDefaults())
}

func TestCheckAndSetDefaultsVaultKeyFallsBackToEncryptionKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{EncryptionKey: "key", JWTSecret: "secret"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "key", cfg.KeyVaultMasterKey)
}

func TestCheckAndSetDefaultsPreservesExplicitVaultKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{EncryptionKey: "key", JWTSecret: "secret", KeyVaultMasterKey: "other"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "other", cfg.KeyVaultMasterKey)
}

func TestCheckAndSetDefaultsFillsDerivedDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{EncryptionKey: "key", JWTSecret: "secret"}
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, 4, cfg.TasksNumWorkers)
	require.Equal(t, 1, cfg.TasksPerServerCap)
	require.Equal(t, 65536, cfg.TasksOutputMaxBytes)
	require.Equal(t, 1800, cfg.TerminalIdleTimeout)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
}

func TestCheckAndSetDefaultsPreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		EncryptionKey:       "key",
		JWTSecret:           "secret",
		TasksNumWorkers:     8,
		TasksPerServerCap:   3,
		TasksOutputMaxBytes: 1024,
		TerminalIdleTimeout: 60,
		CORSAllowedOrigins:  []string{"https://example.com"},
	}
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, 8, cfg.TasksNumWorkers)
	require.Equal(t, 3, cfg.TasksPerServerCap)
	require.Equal(t, 1024, cfg.TasksOutputMaxBytes)
	require.Equal(t, 60, cfg.TerminalIdleTimeout)
	require.Equal(t, []string{"https://example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadParsesEnvironment(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "env-key")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("REST_ADDR", ":9999")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.EncryptionKey)
	require.Equal(t, "env-secret", cfg.JWTSecret)
	require.Equal(t, ":9999", cfg.RESTAddr)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoadFailsWithoutRequiredFields(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsecid/traceability-service/pkg/storage"
)

func TestConfig(t *testing.T) {
	config, err := LoadConfig("dev.toml")
	require.NoError(t, err)
	assert.NotEmpty(t, config)

	assert.False(t, config.Server.ReadTimeout.String() == "")
	assert.False(t, config.Server.WriteTimeout.String() == "")
	assert.False(t, config.Server.ShutdownTimeout.String() == "")
	assert.False(t, config.Server.APIHost == "")
	assert.False(t, config.Server.DebugHost == "")
	assert.Equal(t, EnvironmentDev, config.Server.Environment)

	assert.Equal(t, "bolt", config.Services.StorageProvider)
	require.Len(t, config.Services.StorageOptions, 2)
	assert.Equal(t, storage.TxMaxRetriesOption, config.Services.StorageOptions[1].ID)
	assert.EqualValues(t, 131072, config.Services.StatusConfig.Length)
	assert.Len(t, config.Services.StatusConfig.Types, 3)
	assert.Equal(t, 10*time.Minute, config.Services.AgentConfig.TokenTTL)

	host, err := config.Services.WebHost()
	assert.NoError(t, err)
	assert.Equal(t, "localhost%3A3000", host)
	assert.Equal(t, "http://localhost:3000/v1", config.Services.StatusListBase())
}

func TestConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "bolt", config.Services.StorageProvider)
	assert.EqualValues(t, DefaultStatusListLength, config.Services.StatusConfig.Length)

	host, err := config.Services.WebHost()
	assert.NoError(t, err)
	assert.Equal(t, "localhost%3A3000", host)

	_, err = LoadConfig("config.yaml")
	assert.Error(t, err)
}

func TestConfigEnvOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("AGENT_API_KEY=from-env-file\nVERIFIER_API_KEY=verifier\n"), 0600))
	t.Setenv(EnvPath.String(), envFile)
	t.Setenv(StoragePassword.String(), "storage-secret")
	t.Cleanup(func() {
		_ = os.Unsetenv(AgentAPIKey.String())
		_ = os.Unsetenv(VerifierAPIKey.String())
	})

	config, err := LoadConfig("test.toml")
	require.NoError(t, err)
	assert.Equal(t, EnvironmentTest, config.Server.Environment)
	assert.Equal(t, "memory", config.Services.StorageProvider)
	assert.EqualValues(t, 1024, config.Services.StatusConfig.Length)
	assert.Equal(t, "status", config.Services.StatusConfig.Name)

	assert.Equal(t, "from-env-file", config.Services.AgentConfig.APIKey)
	assert.Equal(t, "verifier", config.Services.AgentConfig.VerifierAPIKey)
	assert.Equal(t, "storage-secret", config.Services.EncryptionConfig.GetPassword())
	assert.NotEmpty(t, config.Server.AuthTokenHash)

	host, err := config.Services.WebHost()
	assert.NoError(t, err)
	assert.Equal(t, "traceability.example.com", host)
}

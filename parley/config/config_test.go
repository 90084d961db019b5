package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/parley/parley"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()

	// Run from an empty directory so no stray config.yaml is picked up
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultBackendURL, cfg.Backend.URL)
	assert.Equal(suite.T(), 30*time.Second, cfg.Backend.OpenTimeout)
	assert.Equal(suite.T(), internal.MaxAttachmentBytes, cfg.Attachments.MaxBytes)
	assert.ElementsMatch(suite.T(), []string{"*.pdf", "*.doc", "*.docx", "*.txt"}, cfg.Attachments.Accept)
	assert.Equal(suite.T(), internal.DefaultLoginEmail, cfg.Session.Email)
	assert.Equal(suite.T(), 24*time.Hour, cfg.Session.TokenTTL)
	assert.Equal(suite.T(), "openai", cfg.Relay.Provider)
	assert.Equal(suite.T(), internal.DefaultRelayModel, cfg.Providers.OpenAI.Model)
	assert.Equal(suite.T(), internal.DefaultSystemPrompt, cfg.Relay.SystemPrompt)
	assert.Empty(suite.T(), cfg.Speech.Endpoint)

	assert.Equal(suite.T(), *cfg, AppConfig)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	configContent := `
log:
  level: debug
  format: json
backend:
  url: "http://relay.internal:9000/api/chat"
speech:
  endpoint: "ws://127.0.0.1:9100/recognize"
relay:
  provider: anthropic
  fallbacks: [openai, ollama]
  rate_limit_burst: 3
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), "debug", cfg.Log.Level)
	assert.Equal(suite.T(), "json", cfg.Log.Format)
	assert.Equal(suite.T(), "http://relay.internal:9000/api/chat", cfg.Backend.URL)
	assert.Equal(suite.T(), "ws://127.0.0.1:9100/recognize", cfg.Speech.Endpoint)
	assert.Equal(suite.T(), "anthropic", cfg.Relay.Provider)
	assert.Equal(suite.T(), []string{"openai", "ollama"}, cfg.Relay.Fallbacks)
	assert.Equal(suite.T(), 3, cfg.Relay.RateLimitBurst)

	// Untouched keys keep their defaults
	assert.Equal(suite.T(), internal.MaxAttachmentBytes, cfg.Attachments.MaxBytes)
}

func (suite *ConfigTestSuite) TestLoadConfigFromEnvironment() {
	suite.T().Setenv("PARLEY_PROVIDERS_OPENAI_API_KEY", "sk-test")
	suite.T().Setenv("PARLEY_RELAY_ADDR", ":9999")

	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(suite.T(), ":9999", cfg.Relay.Addr)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error, unlike a missing search-path config
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	malformedContent := `
backend:
  url: "http://localhost
  open_timeout: [
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(malformedContent), 0o644))

	cfg, err := LoadConfig(configFile)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigRejectsInvalidValues() {
	configContent := `
log:
  level: loud
relay:
  provider: mystery
`

	configFile := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(configFile, []byte(configContent), 0o644))

	cfg, err := LoadConfig(configFile)

	require.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
	assert.Contains(suite.T(), err.Error(), "invalid configuration")
}

func (suite *ConfigTestSuite) TestWriteDefaultRoundTrips() {
	path := filepath.Join(suite.tempDir, "nested", "config.yaml")

	require.NoError(suite.T(), WriteDefault(path))

	cfg, err := LoadConfig(path)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), internal.DefaultBackendURL, cfg.Backend.URL)
	assert.Equal(suite.T(), "llava", cfg.Providers.Ollama.Model)

	// A second write must not clobber the file
	assert.Error(suite.T(), WriteDefault(path))
}

func BenchmarkLoadConfig(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(b, WriteDefault(path))

	for b.Loop() {
		if _, err := LoadConfig(path); err != nil {
			b.Fatal(err)
		}
	}
}

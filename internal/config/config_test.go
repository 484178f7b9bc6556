// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers YAML parsing, env var expansion, durations, and defaults

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9090"
  shutdown_timeout: "5s"
database:
  path: "test.db"
auth:
  jwt_secret: "test-secret"
gemini:
  api_key: "test-key"
  model: "gemini-2.0-flash"
  temperature: 0.5
  max_tokens: 1024
generation:
  lease_duration: "45s"
  lease_heartbeat: "15s"
  stream_timeout: "3m"
  history_window: 4
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "test.db", cfg.Database.Path)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, float32(0.5), cfg.Gemini.Temperature)
	assert.Equal(t, int32(1024), cfg.Gemini.MaxTokens)
	assert.Equal(t, 45*time.Second, cfg.Generation.LeaseDuration)
	assert.Equal(t, 15*time.Second, cfg.Generation.LeaseHeartbeat)
	assert.Equal(t, 3*time.Minute, cfg.Generation.StreamTimeout)
	assert.Equal(t, 4, cfg.Generation.HistoryWindow)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "test.db"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.Equal(t, float32(0.7), cfg.Gemini.Temperature)
	assert.Equal(t, int32(2048), cfg.Gemini.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Generation.LeaseDuration)
	assert.Equal(t, 10*time.Second, cfg.Generation.LeaseHeartbeat)
	assert.Equal(t, 2*time.Minute, cfg.Generation.StreamTimeout)
	assert.Equal(t, 6, cfg.Generation.HistoryWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("LAWBUDDY_TEST_SECRET", "expanded-secret")
	t.Setenv("LAWBUDDY_TEST_KEY", "expanded-key")

	path := writeConfig(t, `
database:
  path: "test.db"
auth:
  jwt_secret: "${LAWBUDDY_TEST_SECRET}"
gemini:
  api_key: "${LAWBUDDY_TEST_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "expanded-key", cfg.Gemini.APIKey)
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "test.db"
auth:
  jwt_secret: "${LAWBUDDY_DEFINITELY_UNSET_VAR}"
`)

	// Unset vars expand to empty, which then fails validation
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "test.db"
auth:
  jwt_secret: "secret"
generation:
  lease_duration: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease_duration")
}

func TestLoad_HeartbeatLongerThanLease(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "test.db"
auth:
  jwt_secret: "secret"
generation:
  lease_duration: "10s"
  lease_heartbeat: "30s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lease_heartbeat")
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing database path",
			content: `
auth:
  jwt_secret: "secret"
`,
			wantErr: "database.path",
		},
		{
			name: "missing jwt secret",
			content: `
database:
  path: "test.db"
`,
			wantErr: "jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value1")
	t.Setenv("TEST_VAR_TWO", "value2")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single var", "prefix ${TEST_VAR_ONE} suffix", "prefix value1 suffix"},
		{"multiple vars", "${TEST_VAR_ONE}:${TEST_VAR_TWO}", "value1:value2"},
		{"no vars", "plain text", "plain text"},
		{"unset var", "${TEST_VAR_UNSET_XYZ}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expandEnvVars(tt.input))
		})
	}
}

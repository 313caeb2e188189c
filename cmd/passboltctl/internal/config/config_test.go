package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_WithEnvironmentVariables tests that PASSBOLT_ prefixed environment variables work
func TestLoad_WithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	t.Setenv("PASSBOLT_SERVER_URL", "https://env.example.com")
	t.Setenv("PASSBOLT_PRIVATE_KEY_PATH", "/keys/env.asc")
	t.Setenv("PASSBOLT_USER_ID", "user-env")
	t.Setenv("PASSBOLT_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("PASSBOLT_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("PASSBOLT_HTTP_TIMEOUT", "45s")
	t.Setenv("PASSBOLT_OUTPUT", "JSON")
	t.Setenv("PASSBOLT_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.ServerURL)
	assert.Equal(t, "/keys/env.asc", cfg.PrivateKeyPath)
	assert.Equal(t, "user-env", cfg.UserID)
	assert.True(t, cfg.InsecureSkipVerify)
	assert.InDelta(t, 2.5, cfg.RequestsPerSecond, 0.0001)
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, OutputJSON, cfg.Output)
	assert.Equal(t, pterm.LogLevelDebug, cfg.LogLevel)
}

// TestLoad_Defaults tests the values used when only required settings are given
func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("PASSBOLT_SERVER_URL", "https://passbolt.local")
	t.Setenv("PASSBOLT_PRIVATE_KEY_PATH", "key.asc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, OutputTable, cfg.Output)
	assert.Equal(t, pterm.LogLevelWarn, cfg.LogLevel)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.False(t, cfg.LogJSON)
	assert.Zero(t, cfg.RequestsPerSecond)
	assert.Empty(t, cfg.Passphrase)
	assert.Empty(t, cfg.AccessToken)
	assert.True(t, cfg.StoreCredentials)
	assert.Empty(t, cfg.CredentialsFile)
}

// TestLoad_WithConfigFile tests config file loading
func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "passboltctl.yaml")

	configContent := `
server_url: "https://file.example.com"
private_key_path: "/keys/file.asc"
private_key_passphrase: "from-file"
access_token: "access"
refresh_token: "refresh"
http_timeout: "1m"
output: "yaml"
log_level: "error"
log_json: true
store_credentials: false
credentials_file: "/tmp/creds.json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	viper.Reset()
	viper.SetConfigFile(configPath)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.ServerURL)
	assert.Equal(t, "/keys/file.asc", cfg.PrivateKeyPath)
	assert.Equal(t, "from-file", cfg.Passphrase)
	assert.Equal(t, "access", cfg.AccessToken)
	assert.Equal(t, "refresh", cfg.RefreshToken)
	assert.Equal(t, time.Minute, cfg.HTTPTimeout)
	assert.Equal(t, OutputYAML, cfg.Output)
	assert.Equal(t, pterm.LogLevelError, cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.False(t, cfg.StoreCredentials)
	assert.Equal(t, "/tmp/creds.json", cfg.CredentialsFile)
}

// TestLoad_EnvOverridesConfigFile tests that environment variables win over the file
func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "passboltctl.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
server_url: "https://file.example.com"
private_key_path: "/keys/file.asc"
output: "yaml"
`), 0644))

	viper.Reset()
	viper.SetConfigFile(configPath)
	require.NoError(t, viper.ReadInConfig())
	t.Setenv("PASSBOLT_SERVER_URL", "https://env.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.ServerURL)
	assert.Equal(t, "/keys/file.asc", cfg.PrivateKeyPath)
	assert.Equal(t, OutputYAML, cfg.Output)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing server url",
			env:     map[string]string{"PASSBOLT_PRIVATE_KEY_PATH": "key.asc"},
			wantErr: "PASSBOLT_SERVER_URL",
		},
		{
			name:    "relative server url",
			env:     map[string]string{"PASSBOLT_SERVER_URL": "passbolt.local", "PASSBOLT_PRIVATE_KEY_PATH": "key.asc"},
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "unsupported scheme",
			env:     map[string]string{"PASSBOLT_SERVER_URL": "ftp://passbolt.local", "PASSBOLT_PRIVATE_KEY_PATH": "key.asc"},
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "missing private key",
			env:     map[string]string{"PASSBOLT_SERVER_URL": "https://passbolt.local"},
			wantErr: "PASSBOLT_PRIVATE_KEY_PATH",
		},
		{
			name: "access token without refresh token",
			env: map[string]string{
				"PASSBOLT_SERVER_URL":       "https://passbolt.local",
				"PASSBOLT_PRIVATE_KEY_PATH": "key.asc",
				"PASSBOLT_ACCESS_TOKEN":     "access",
			},
			wantErr: "must be set together",
		},
		{
			name: "negative rate",
			env: map[string]string{
				"PASSBOLT_SERVER_URL":          "https://passbolt.local",
				"PASSBOLT_PRIVATE_KEY_PATH":    "key.asc",
				"PASSBOLT_REQUESTS_PER_SECOND": "-1",
			},
			wantErr: "requests per second",
		},
		{
			name: "unknown log level",
			env: map[string]string{
				"PASSBOLT_SERVER_URL":       "https://passbolt.local",
				"PASSBOLT_PRIVATE_KEY_PATH": "key.asc",
				"PASSBOLT_LOG_LEVEL":        "chatty",
			},
			wantErr: "unknown log level",
		},
		{
			name: "unknown output format",
			env: map[string]string{
				"PASSBOLT_SERVER_URL":       "https://passbolt.local",
				"PASSBOLT_PRIVATE_KEY_PATH": "key.asc",
				"PASSBOLT_OUTPUT":           "xml",
			},
			wantErr: "unknown output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestContextInjection(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.Panics(t, func() { MustFromContext(context.Background()) })

	global := &GlobalConfig{Config: &Config{ServerURL: "https://passbolt.local"}}
	ctx := InjectConfig(context.Background(), global)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, global, got)
	assert.Equal(t, "https://passbolt.local", MustFromContext(ctx).ServerURL)
}

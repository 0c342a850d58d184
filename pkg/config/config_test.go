package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
issuer: https://login.example.com/tenant/v2.0
client_id: app-client-id
client_secret: app-client-secret
callback_url: https://app.example.com/oauth2/callback
encryption_key: c2VjcmV0LWtleS1tdXN0LWJlLTMyLWJ5dGVzISE=
allowed_redirect_origins:
  - https://app.example.com
allowed_app_ids:
  - app-client-id
roles:
  write_groups: ["team-a"]
  admin_groups: ["admins"]
store: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://login.example.com/tenant/v2.0", cfg.Issuer)
	assert.Equal(t, "app-client-id", cfg.ClientID)
	assert.Equal(t, []string{"team-a"}, cfg.Roles.WriteGroups)
	assert.Equal(t, []string{"admins"}, cfg.Roles.AdminGroups)
	assert.Equal(t, 14*time.Hour, cfg.SessionLifetime)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing issuer", func(c *Config) { c.Issuer = "" }, "issuer is required"},
		{"missing client id", func(c *Config) { c.ClientID = "" }, "client_id is required"},
		{"missing callback", func(c *Config) { c.CallbackURL = "" }, "callback_url is required"},
		{"missing key", func(c *Config) { c.EncryptionKey = "" }, "encryption_key is required"},
		{"redis without url", func(c *Config) { c.Store = StoreRedis }, "redis_url is required"},
		{"sqlite without path", func(c *Config) { c.Store = StoreSQLite }, "sqlite_path is required"},
		{"unknown store", func(c *Config) { c.Store = "dynamo" }, "unknown store backend"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Issuer:        "https://login.example.com",
				ClientID:      "id",
				CallbackURL:   "https://app.example.com/oauth2/callback",
				EncryptionKey: "key",
				Store:         StoreMemory,
			}
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("POLLY_ISSUER", "https://env.example.com")
	t.Setenv("POLLY_CLIENT_ID", "env-client")
	t.Setenv("POLLY_CALLBACK_URL", "https://app.example.com/oauth2/callback")
	t.Setenv("POLLY_ENCRYPTION_KEY", "a2V5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Issuer)
	assert.Equal(t, "env-client", cfg.ClientID)
}

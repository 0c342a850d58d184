// Package config contains the definition of the application config structure
// and logic required to load and validate it.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backend types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config represents the configuration of the authentication service.
type Config struct {
	// ListenAddress is the host:port the HTTP server binds to.
	ListenAddress string `mapstructure:"listen_address"`

	// Issuer is the OIDC issuer URL of the identity provider.
	Issuer string `mapstructure:"issuer"`

	// ClientID is this application's client identifier at the provider.
	ClientID string `mapstructure:"client_id"`

	// ClientSecret is this application's client secret at the provider.
	ClientSecret string `mapstructure:"client_secret"`

	// CallbackURL is the absolute URL of the /oauth2/callback endpoint as
	// registered at the provider.
	CallbackURL string `mapstructure:"callback_url"`

	// Scopes requested during login. "openid" and "offline_access" are
	// required for the refresh-token flow and are appended if missing.
	Scopes []string `mapstructure:"scopes"`

	// AllowedAppIDs is the allow-list of caller application ids (azp claim)
	// permitted to present bearer tokens.
	AllowedAppIDs []string `mapstructure:"allowed_app_ids"`

	// AllowedRedirectOrigins is the allow-list of origins that login
	// redirect and error URIs must match.
	AllowedRedirectOrigins []string `mapstructure:"allowed_redirect_origins"`

	// EncryptionKey is the base64-encoded 32-byte key used to encrypt
	// refresh secrets and state payloads. Rotating it invalidates all
	// outstanding sessions.
	EncryptionKey string `mapstructure:"encryption_key"`

	// Roles maps provider group ids onto application roles.
	Roles RoleMappings `mapstructure:"roles"`

	// SessionLifetime is both the cookie Max-Age and the idle age after
	// which the sweep deletes a session.
	SessionLifetime time.Duration `mapstructure:"session_lifetime"`

	// SweepInterval is how often the background session sweep runs.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Store selects the session store backend: memory, redis or sqlite.
	Store string `mapstructure:"store"`

	// RedisURL is the connection URL for the redis store backend.
	RedisURL string `mapstructure:"redis_url"`

	// SQLitePath is the database file path for the sqlite store backend.
	SQLitePath string `mapstructure:"sqlite_path"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`
}

// RoleMappings maps provider group identifiers onto application roles.
// Every authenticated identity additionally receives the baseline read role.
type RoleMappings struct {
	WriteGroups []string `mapstructure:"write_groups"`
	AdminGroups []string `mapstructure:"admin_groups"`
	SuperGroups []string `mapstructure:"super_groups"`
}

// Load reads configuration from the given file (optional) and from
// environment variables prefixed with POLLY_ (e.g. POLLY_CLIENT_ID).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_address", "127.0.0.1:8080")
	v.SetDefault("scopes", []string{"openid", "profile", "email"})
	v.SetDefault("session_lifetime", 14*time.Hour)
	v.SetDefault("sweep_interval", 10*time.Minute)
	v.SetDefault("store", StoreMemory)

	v.SetEnvPrefix("POLLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so bind the ones that
	// have no default explicitly.
	for _, key := range []string{
		"issuer", "client_id", "client_secret", "callback_url",
		"allowed_app_ids", "allowed_redirect_origins", "encryption_key",
		"redis_url", "sqlite_path", "debug",
		"roles.write_groups", "roles.admin_groups", "roles.super_groups",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Scopes = ensureScopes(cfg.Scopes, "openid", "offline_access")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ensureScopes appends the given scopes if they are not already requested.
func ensureScopes(scopes []string, required ...string) []string {
	for _, req := range required {
		if !slices.Contains(scopes, req) {
			scopes = append(scopes, req)
		}
	}
	return scopes
}

// Validate checks that the configuration is complete enough to serve.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("callback_url is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption_key is required")
	}

	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis_url is required for the redis store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store backend: %q (valid backends: %s, %s, %s)",
			c.Store, StoreMemory, StoreRedis, StoreSQLite)
	}

	return nil
}

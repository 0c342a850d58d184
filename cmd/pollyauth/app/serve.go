package app

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/navikt/polly-sub000/pkg/auth"
	"github.com/navikt/polly-sub000/pkg/config"
	"github.com/navikt/polly-sub000/pkg/crypto"
	"github.com/navikt/polly-sub000/pkg/logger"
	"github.com/navikt/polly-sub000/pkg/server"
	"github.com/navikt/polly-sub000/pkg/session"
	"github.com/navikt/polly-sub000/pkg/state"
	"github.com/navikt/polly-sub000/pkg/telemetry"
	"github.com/navikt/polly-sub000/pkg/tokens"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication service",
	Long: `Start the HTTP server hosting the login endpoints, the identity query
and the request authentication middleware. Configuration is read from
POLLY_-prefixed environment variables and, optionally, a config file.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a config file (optional)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Debug {
		viper.Set("debug", true)
	}
	// Reinitialize now that the debug flag and config are known.
	logger.Initialize()

	encryptor, err := crypto.NewEncryptorFromBase64(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	store, err := session.NewStore(ctx, cfg.Store, cfg.RedisURL, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	sessions := session.NewManager(store, encryptor)
	sessions.StartSweeper(cfg.SweepInterval, cfg.SessionLifetime)
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warnf("Failed to close session store: %v", err)
		}
	}()

	allowList := state.NewAllowList(cfg.AllowedRedirectOrigins)
	codec := state.NewCodec(encryptor, allowList)

	provider, err := tokens.NewProvider(ctx, tokens.Config{
		Issuer:       cfg.Issuer,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Scopes:       cfg.Scopes,
	}, tokens.NewCache(tokens.DefaultExpirySkew))
	if err != nil {
		return fmt.Errorf("failed to set up identity provider client: %w", err)
	}

	validator, err := auth.NewTokenValidator(ctx, auth.TokenValidatorConfig{
		Issuer:        cfg.Issuer,
		ClientID:      cfg.ClientID,
		JWKSURL:       provider.JWKSURI(),
		AllowedAppIDs: cfg.AllowedAppIDs,
	}, auth.RoleMappings{
		WriteGroups: cfg.Roles.WriteGroups,
		AdminGroups: cfg.Roles.AdminGroups,
		SuperGroups: cfg.Roles.SuperGroups,
	})
	if err != nil {
		return fmt.Errorf("failed to set up token validator: %w", err)
	}

	if err := telemetry.Register(nil); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	authenticator := auth.NewAuthenticator(validator, sessions, provider, strings.Join(cfg.Scopes, " "))
	srv := server.New(sessions, provider, codec, allowList, authenticator, cfg.SessionLifetime)

	logger.Infow("Starting authentication service",
		"address", cfg.ListenAddress,
		"issuer", cfg.Issuer,
		"store", cfg.Store,
	)
	return srv.Serve(ctx, cfg.ListenAddress)
}

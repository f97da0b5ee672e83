package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fahadkaleem/alfred-cli/internal/auth"
	"github.com/fahadkaleem/alfred-cli/internal/config"
	"github.com/fahadkaleem/alfred-cli/internal/logging"
)

func newAuthCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Show how the provider credential would be resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

			resolver := auth.NewResolver(map[string]auth.ProviderAuth{
				cfg.Provider: {
					EnvVars:      cfg.EnvVarsOrConvention(),
					OAuthEnabled: cfg.Auth.OAuthEnabled,
				},
			}, nil, logger)
			if cfg.Auth.SessionKey != "" {
				resolver.SetSessionKey(cfg.Provider, cfg.Auth.SessionKey)
			}

			fmt.Printf("provider:   %s\n", cfg.Provider)
			fmt.Printf("method:     %s\n", resolver.AuthMethodName(cfg.Provider))
			fmt.Printf("oauth-only: %v\n", resolver.IsOAuthOnlyAvailable(cfg.Provider))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("ALFRED_CONFIG"), "path to config file")
	return cmd
}

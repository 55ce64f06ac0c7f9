package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/app"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/security"
	"github.com/tokengate/tokengate/internal/tools/common"
	"github.com/tokengate/tokengate/internal/tools/pooltop"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "tokengate",
		Short: "Token distribution engine with per-user cooldowns",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return common.LoadEnvFile(envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to tokengate.toml")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with TOKENGATE_* overrides")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newSweepCommand(&configPath))
	cmd.AddCommand(newMintTokenCommand(&configPath))
	cmd.AddCommand(newPooltopCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: HTTP API plus the expiry reaper",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			runtime, err := observability.InitRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			runtime.LoggerProvider = loggerProvider

			a, err := app.Build(ctx, cfg, logger, runtime)
			if err != nil {
				return err
			}
			logger.Info("tokengate starting", "version", version, "profile", cfg.Profile)
			return a.Run(ctx)
		},
	}
}

func newSweepCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry sweep against the configured sources and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, _, err := observability.InitLogging(ctx, cfg)
			if err != nil {
				return err
			}
			a, err := app.Build(ctx, cfg, logger, nil)
			if err != nil {
				return err
			}
			removed, err := a.Engine.ForceSweep(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("swept %d expired token(s)\n", len(removed))
			for _, tok := range removed {
				fmt.Printf("  %s (alias %s, owner %q)\n", tok.Value, tok.SourceAlias, tok.OwnerID)
			}
			return nil
		},
	}
}

func newMintTokenCommand(configPath *string) *cobra.Command {
	var subject string
	var scopes []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Mint a service token for a bot or operator",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			mgr := security.NewJWTManager(cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthSecret)
			raw, err := mgr.Sign(subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Println(raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller identity (required)")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{"claim"}, "scopes to grant (claim, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newPooltopCommand() *cobra.Command {
	var baseURL, token string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "pooltop",
		Short: "Live terminal view of the token pool (needs an admin token)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return pooltop.Run(pooltop.Options{
				BaseURL:      strings.TrimRight(baseURL, "/"),
				ServiceToken: token,
				Interval:     interval,
			})
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.Flags().StringVar(&token, "token", "", "service token with admin scope")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version)
		},
	}
}

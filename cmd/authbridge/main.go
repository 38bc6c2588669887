package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/authbridge/internal/cache"
	"github.com/dropDatabas3/authbridge/internal/config"
	httpserver "github.com/dropDatabas3/authbridge/internal/http"
	"github.com/dropDatabas3/authbridge/internal/identity"
	"github.com/dropDatabas3/authbridge/internal/identity/provider"
	"github.com/dropDatabas3/authbridge/internal/infra/cachefactory"
	"github.com/dropDatabas3/authbridge/internal/metrics"
	"github.com/dropDatabas3/authbridge/internal/observability/logger"
	"github.com/dropDatabas3/authbridge/internal/security/secretbox"
	"github.com/dropDatabas3/authbridge/internal/session"
)

var version = "dev"

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// buildCore wires provider client and reconciler from config.
func buildCore(cfg *config.Config) (*session.Reconciler, error) {
	if cfg.Provider.BaseURL == "" {
		return nil, fmt.Errorf("provider.base_url is required (flag --config or env AUTHBRIDGE_PROVIDER_URL)")
	}

	var vault provider.TokenVault = provider.NewMemoryVault()
	if cfg.Vault.Path != "" {
		box, err := secretbox.FromEnv()
		if err != nil {
			return nil, fmt.Errorf("vault at %s needs a master key: %w", cfg.Vault.Path, err)
		}
		vault = provider.NewFileVault(cfg.Vault.Path, box)
	}

	client := provider.New(provider.Config{
		BaseURL:  cfg.Provider.BaseURL,
		ClientID: cfg.Provider.ClientID,
		Timeout:  cfg.ProviderTimeout(),
		Vault:    vault,
	})
	return session.NewReconciler(session.Config{
		Provider:        client,
		ExchangeTimeout: cfg.ExchangeTimeout(),
	}), nil
}

func printSession(s identity.Session) {
	out := map[string]any{
		"status":    string(s.Status),
		"tenant_id": s.TenantID,
	}
	if s.Principal != nil {
		out["principal"] = map[string]string{
			"id":       s.Principal.ID,
			"username": s.Principal.Username,
			"email":    s.Principal.Email,
			"name":     s.Principal.Name,
		}
	}
	if s.Cause != nil {
		out["cause"] = s.Cause.Error()
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func main() {
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:     "authbridge",
		Short:   "Federated sign-in core for the storefront client",
		Version: version,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("AUTHBRIDGE_CONFIG", ""), "path to config YAML (env AUTHBRIDGE_CONFIG)")

	loadConfig := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the link-callback intake and session HTTP harness",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{
				Env:         cfg.App.Env,
				Level:       cfg.App.LogLevel,
				ServiceName: "authbridge",
				Version:     version,
			})
			defer logger.Sync()
			log := logger.Named("serve")

			if err := metrics.Register(nil); err != nil {
				return err
			}

			rec, err := buildCore(cfg)
			if err != nil {
				return err
			}

			guard, err := cachefactory.Open(cacheConfig(cfg))
			if err != nil {
				return err
			}
			defer guard.Close()

			intake := session.NewIntake(session.IntakeConfig{
				Reconciler: rec,
				Guard:      guard,
				ReplayTTL:  cfg.ReplayTTL(),
				Buffer:     cfg.Intake.Buffer,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go intake.Run(ctx)

			// Resolve Unknown against provider truth in the background; the
			// harness serves the current snapshot meanwhile.
			go func() {
				if _, err := rec.CheckStatus(ctx); err != nil {
					log.Warn("initial status check failed", logger.Err(err))
				}
			}()

			srv := httpserver.NewServer(cfg.Server.Addr, httpserver.NewRouter(httpserver.Handler{
				Core:   rec,
				Intake: intake,
			}))

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", zap.String("addr", cfg.Server.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	var token, shop string
	signinCmd := &cobra.Command{
		Use:   "signin",
		Short: "Exchange an external token for a federated session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
			defer logger.Sync()

			rec, err := buildCore(cfg)
			if err != nil {
				return err
			}
			s, err := rec.BeginExchange(cmd.Context(), identity.ExchangeRequest{
				ExternalToken: token,
				TenantID:      shop,
			})
			printSession(s)
			return err
		},
	}
	signinCmd.Flags().StringVar(&token, "token", "", "externally issued access token")
	signinCmd.Flags().StringVar(&shop, "shop", "", "tenant (shop) identifier")
	_ = signinCmd.MarkFlagRequired("token")
	_ = signinCmd.MarkFlagRequired("shop")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Reconcile and print the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
			defer logger.Sync()

			rec, err := buildCore(cfg)
			if err != nil {
				return err
			}
			s, err := rec.CheckStatus(cmd.Context())
			printSession(s)
			return err
		},
	}

	signoutCmd := &cobra.Command{
		Use:   "signout",
		Short: "End the federated session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
			defer logger.Sync()

			rec, err := buildCore(cfg)
			if err != nil {
				return err
			}
			// Resolve local belief first so sign-out sees the real state.
			if _, err := rec.CheckStatus(cmd.Context()); err != nil {
				printSession(rec.Snapshot())
				return err
			}
			s, err := rec.SignOut(cmd.Context())
			printSession(s)
			return err
		},
	}

	root.AddCommand(serveCmd, signinCmd, statusCmd, signoutCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func cacheConfig(cfg *config.Config) cache.Config {
	return cache.Config{
		Driver:     cfg.Intake.Cache.Driver,
		Addr:       cfg.Intake.Cache.Redis.Addr,
		Password:   cfg.Intake.Cache.Redis.Password,
		DB:         cfg.Intake.Cache.Redis.DB,
		Prefix:     cfg.Intake.Cache.Redis.Prefix,
		DefaultTTL: cfg.ReplayTTL(),
	}
}

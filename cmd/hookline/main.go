package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fantasbr/hookline/internal/api"
	"github.com/fantasbr/hookline/internal/config"
	"github.com/fantasbr/hookline/internal/delivery"
	"github.com/fantasbr/hookline/internal/enqueue"
	"github.com/fantasbr/hookline/internal/keys"
	"github.com/fantasbr/hookline/internal/metrics"
	"github.com/fantasbr/hookline/internal/ratelimit"
	"github.com/fantasbr/hookline/internal/registry"
	"github.com/fantasbr/hookline/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookline",
		Short: "Hookline — reliable outbound webhook delivery",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(workerCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(apikeyCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server with an embedded delivery runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			var m *metrics.Metrics
			var metricsHandler http.Handler
			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				m = metrics.New(reg)
				metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
			}

			limiter := setupLimiter(cfg.RateLimit, log)

			worker := delivery.NewWorker(store, delivery.NewSender(), limiter, m, log,
				cfg.Delivery.BackoffBase, cfg.Delivery.BackoffMax)
			runner := delivery.NewRunner(store, worker, m, log, cfg.Delivery)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := runner.Start(ctx); err != nil {
				return fmt.Errorf("failed to start delivery runner: %w", err)
			}

			reg := registry.New(store)
			enqueuer := enqueue.New(store, log)
			issuer := keys.NewIssuer(store)

			server := api.NewServer(cfg.Server, store, reg, enqueuer, issuer, metricsHandler, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("schedule", cfg.Delivery.Schedule).
				Str("storage", cfg.Storage.Driver).
				Msg("Hookline is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			runner.Stop()

			log.Info().Msg("Hookline stopped")
			return nil
		},
	}
}

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the delivery runner without the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			limiter := setupLimiter(cfg.RateLimit, log)

			worker := delivery.NewWorker(store, delivery.NewSender(), limiter, nil, log,
				cfg.Delivery.BackoffBase, cfg.Delivery.BackoffMax)
			runner := delivery.NewRunner(store, worker, nil, log, cfg.Delivery)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := runner.Start(ctx); err != nil {
				return fmt.Errorf("failed to start delivery runner: %w", err)
			}

			log.Info().Str("schedule", cfg.Delivery.Schedule).Msg("delivery worker running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			runner.Stop()
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Println("migrations completed successfully")
			return nil
		},
	}
}

func apikeyCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key (plaintext is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			perms, _ := cmd.Flags().GetString("permissions")
			expires, _ := cmd.Flags().GetInt("expires-in-days")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			permissions := []string{}
			for _, p := range strings.Split(perms, ",") {
				if p = strings.TrimSpace(p); p != "" {
					permissions = append(permissions, p)
				}
			}

			key, plaintext, err := keys.NewIssuer(store).CreateKey(context.Background(), name, permissions, expires)
			if err != nil {
				return fmt.Errorf("failed to create api key: %w", err)
			}

			out, _ := json.MarshalIndent(key, "", "  ")
			fmt.Println(string(out))
			fmt.Printf("\nAPI key (save it now, it cannot be shown again):\n  %s\n", plaintext)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "key name")
	createCmd.Flags().String("permissions", "*", "comma-separated permissions")
	createCmd.Flags().Int("expires-in-days", 0, "0 means no expiry")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			list, err := store.ListAPIKeys(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list api keys: %w", err)
			}

			if len(list) == 0 {
				fmt.Println("No API keys found.")
				return nil
			}
			for _, k := range list {
				status := "active"
				if k.RevokedAt != nil {
					status = "revoked"
				} else if k.ExpiresAt != nil && time.Now().UTC().After(*k.ExpiresAt) {
					status = "expired"
				}
				fmt.Printf("  %s  %s  %s  [%s]  %s\n",
					k.ID, k.KeyPrefix, k.Name, strings.Join(k.Permissions, ","), status)
			}
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <key_id>",
		Short: "Revoke an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: hookline apikey revoke <key_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.RevokeAPIKey(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to revoke api key: %w", err)
			}
			fmt.Println("revoked")
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, revokeCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			counts, err := store.QueueCounts(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(counts, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Hookline v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupLimiter(cfg config.RateLimitConfig, log zerolog.Logger) *ratelimit.Limiter {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Info().Str("addr", cfg.RedisAddr).Msg("per-subscription rate limiting enabled")
	return ratelimit.New(client, log)
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}

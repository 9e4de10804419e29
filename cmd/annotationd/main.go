package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandytbermillo/annotation/pkg/api"
	"github.com/dandytbermillo/annotation/pkg/batcher"
	"github.com/dandytbermillo/annotation/pkg/codec"
	"github.com/dandytbermillo/annotation/pkg/compactor"
	"github.com/dandytbermillo/annotation/pkg/config"
	"github.com/dandytbermillo/annotation/pkg/deletion"
	"github.com/dandytbermillo/annotation/pkg/events"
	"github.com/dandytbermillo/annotation/pkg/log"
	"github.com/dandytbermillo/annotation/pkg/service"
	"github.com/dandytbermillo/annotation/pkg/store"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "annotationd",
	Short: "Annotationd - durable persistence for collaborative annotations",
	Long: `Annotationd stores CRDT document updates in Postgres behind a
batching write pipeline, replays them into snapshots, and compacts the
update log in the background.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Annotationd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	if err := log.Setup(logLevel, logJSON, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective config: defaults, environment, optional
// YAML file, then flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if v, _ := cmd.Flags().GetString("db-url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("batch-preset"); v != "" {
		cfg.BatchPreset = v
	}

	return cfg, cfg.Validate()
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the persistence service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger := log.Component("main")
		logger.Info().Str("config", cfg.String()).Msg("Starting annotationd")

		st, err := store.Open(cfg)
		if err != nil {
			return err
		}
		if err := st.Migrate(cmd.Context()); err != nil {
			st.Close()
			return err
		}

		// Subscriber buffers sized to one full batch of enqueue events.
		broker := events.NewBroker(cfg.Batch().MaxBatchCount)

		cdc := codec.New()
		writer, err := batcher.New(&service.LogAppender{Store: st}, cdc, cfg.Batch(), broker)
		if err != nil {
			st.Close()
			return err
		}

		comp := compactor.New(&compactor.PGBackend{Store: st}, cdc, compactor.Config{
			UpdateThreshold: cfg.UpdateThreshold,
			SizeThreshold:   cfg.SizeThreshold,
			AgeThreshold:    cfg.AgeThreshold,
			Keep:            cfg.KeepSnapshots,
			SweepInterval:   cfg.SweepInterval,
		}, broker)
		comp.Start()

		svc := service.New(
			&service.PGStorage{Store: st},
			writer,
			comp,
			deletion.New(st, broker),
			cdc,
			cfg.AutoCompact,
		)

		server := api.NewServer(svc)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.ListenAddr)
		}()

		// Cooperative drain on termination: stop accepting requests, drain
		// the batching writer, then release the pool.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-errCh:
			if err != nil {
				logger.Error().Err(err).Msg("API server failed")
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("API shutdown failed")
		}
		comp.Stop()
		if err := svc.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Writer drain failed")
		}
		broker.Close()
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("Pool close failed")
		}

		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the persistence schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{serverCmd, migrateCmd} {
		cmd.Flags().String("db-url", "", "Postgres connection URL (overrides DATABASE_URL)")
		cmd.Flags().String("config", "", "Path to YAML config file")
	}
	serverCmd.Flags().String("listen", "", "HTTP listen address (overrides LISTEN_ADDR)")
	serverCmd.Flags().String("batch-preset", "", "Batching preset: web, embedded or test")
}

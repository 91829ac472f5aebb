package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/app"
	"github.com/marianozunino/relay/internal/config"
	"github.com/marianozunino/relay/internal/db"
	"github.com/marianozunino/relay/internal/logger"
	"github.com/marianozunino/relay/internal/migration"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "Ephemeral PIN-session file relay",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml when present)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the relay server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(configPath)
			},
		},
		migrateCmd(&configPath),
	)
	return rootCmd
}

func load(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func serve(configPath string) error {
	cfg, log, err := load(configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	application, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	if err := application.Start(); err != nil {
		return err
	}
	defer application.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	log.Info("server shutdown complete")
	return nil
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the record store schema",
	}

	withManager := func(fn func(m *migration.Manager, log *zap.Logger) error) error {
		cfg, log, err := load(*configPath)
		if err != nil {
			return err
		}
		defer log.Sync()

		if cfg.Database.Driver == "sqlite3" {
			if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		store, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open record store: %w", err)
		}
		defer store.Close()

		m, err := migration.NewManagerWithDB(store.DB.DB, store.DriverName(), log)
		if err != nil {
			return err
		}
		defer m.Close()

		return fn(m, log)
	}

	version := func(arg string) (int, error) {
		v, err := strconv.Atoi(arg)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version %q", arg)
		}
		return v, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(func(m *migration.Manager, log *zap.Logger) error {
					return m.Up()
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(func(m *migration.Manager, log *zap.Logger) error {
					return m.Down()
				})
			},
		},
		&cobra.Command{
			Use:   "goto <version>",
			Short: "Migrate up or down to a version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := version(args[0])
				if err != nil {
					return err
				}
				return withManager(func(m *migration.Manager, log *zap.Logger) error {
					return m.MigrateToVersion(uint(v))
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark the schema as being at a version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := version(args[0])
				if err != nil {
					return err
				}
				return withManager(func(m *migration.Manager, log *zap.Logger) error {
					if err := m.Force(v); err != nil {
						return err
					}
					log.Info("database version forced", zap.Int("version", v))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(func(m *migration.Manager, log *zap.Logger) error {
					v, dirty, err := m.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
					return nil
				})
			},
		},
	)
	return cmd
}

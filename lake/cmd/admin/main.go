package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/malbeclabs/askql/lake/api/config"
	"github.com/malbeclabs/askql/lake/internal/admin"
	"github.com/malbeclabs/askql/lake/pkg/dataset"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "askql-admin",
		Short:         "Operator commands for the AskQL backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().String("dataset-driver", getenv("DATASET_DRIVER", string(dataset.DriverSQLite)), "dataset engine: sqlite or duckdb (env: DATASET_DRIVER)")
	rootCmd.PersistentFlags().String("dataset-dsn", getenv("DATASET_DSN", "askql.db"), "dataset database path or dsn (env: DATASET_DSN)")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newTablesCmd(),
		newSchemaCmd(),
		newQueryCmd(),
	)
	return rootCmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the conversation store migrations to Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFor(cmd)
			if err != nil {
				return err
			}
			cfg := config.PostgresConfig{
				Host:     getenv("POSTGRES_HOST", "localhost"),
				Port:     getenv("POSTGRES_PORT", "5432"),
				Database: getenv("POSTGRES_DB", "askql"),
				Username: getenv("POSTGRES_USER", "askql"),
				Password: getenv("POSTGRES_PASSWORD", "askql"),
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid postgres config: %w", err)
			}
			pool, err := config.NewPostgresPool(cmd.Context(), log, cfg)
			if err != nil {
				return err
			}
			pool.Close()
			log.Info("migrations applied")
			return nil
		},
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the dataset tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDataset(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			return admin.PrintTables(cmd.Context(), cmd.OutOrStdout(), store)
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <table>",
		Short: "Show a table's columns and sample rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDataset(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			return admin.PrintSchema(cmd.Context(), cmd.OutOrStdout(), store, args[0])
		},
	}
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only SELECT against the datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return fmt.Errorf("failed to get timeout flag: %w", err)
			}
			store, err := openDataset(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return admin.RunQuery(ctx, cmd.OutOrStdout(), store, strings.Join(args, " "))
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "query timeout")
	return cmd
}

func openDataset(cmd *cobra.Command) (*dataset.Store, error) {
	log, err := loggerFor(cmd)
	if err != nil {
		return nil, err
	}
	driver, err := cmd.Flags().GetString("dataset-driver")
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset-driver flag: %w", err)
	}
	dsn, err := cmd.Flags().GetString("dataset-dsn")
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset-dsn flag: %w", err)
	}
	store, err := dataset.Open(cmd.Context(), dataset.Config{Logger: log, Driver: dataset.Driver(driver), DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset store: %w", err)
	}
	return store, nil
}

func loggerFor(cmd *cobra.Command) (*slog.Logger, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	return newLogger(verbose), nil
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

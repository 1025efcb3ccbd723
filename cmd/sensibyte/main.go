// Command sensibyte is the batch driver of the antibiogram engine: seeding
// the global catalog, ingesting laboratory spreadsheets and reinterpreting
// stored results at a chosen EUCAST version.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sensibyte/SensiByte/internal/config"
	"github.com/sensibyte/SensiByte/internal/store"
	"github.com/sensibyte/SensiByte/internal/store/memory"
	"github.com/sensibyte/SensiByte/internal/store/postgres"
	"github.com/sensibyte/SensiByte/internal/store/sqlitestore"
)

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "sensibyte",
		Short:         "Antibiogram ingestion and resistance analytics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			logger = newLogger(cfg)
			return nil
		},
	}

	root.AddCommand(newSeedCommand())
	root.AddCommand(newIngestCommand())
	root.AddCommand(newReinterpretCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(strings.ToLower(cfg.Logging.Level)); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// openStore builds the configured store backend.
func openStore(cmd *cobra.Command) (store.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		dsn := cfg.Database.PostgresDSN()
		url := fmt.Sprintf("pgx5://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Username, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port,
			cfg.Database.Database, cfg.Database.SSLMode)
		if err := postgres.RunMigrations(url, logger); err != nil {
			return nil, err
		}
		return postgres.New(cmd.Context(), dsn, logger)
	case "sqlite":
		return sqlitestore.New(cfg.Database.Path, logger)
	default:
		logger.Warn("Memory store selected: state will not survive this process")
		return memory.New(), nil
	}
}

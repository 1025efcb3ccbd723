package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensibyte/SensiByte/internal/domain"
	"github.com/sensibyte/SensiByte/internal/fixtures"
	"github.com/sensibyte/SensiByte/internal/store/memory"
	"github.com/sensibyte/SensiByte/internal/store/postgres"
	"github.com/sensibyte/SensiByte/internal/store/sqlitestore"
)

func newSeedCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the global catalog fixtures into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = cfg.Fixtures.Dir
			}
			bundle, err := fixtures.Load(dir, logger)
			if err != nil {
				return err
			}
			if err := bundle.Validate(); err != nil {
				return fmt.Errorf("validating fixtures: %w", err)
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			switch s := st.(type) {
			case *postgres.Store:
				err = s.SeedCatalog(cmd.Context(), bundle.Catalog, bundle.Mechanisms, bundle.Subtypes)
			case *sqlitestore.Store:
				err = s.SeedCatalog(cmd.Context(), bundle.Catalog, bundle.Mechanisms, bundle.Subtypes)
			case *memory.Store:
				s.Catalog = bundle.Catalog
				s.MechNames = bundle.Mechanisms
				s.SubNames = bundle.Subtypes
			default:
				err = fmt.Errorf("store %T does not support seeding", st)
			}
			if err != nil {
				return err
			}

			logger.WithField("fixtures", dir).Info("Catalog seeded")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "fixtures", "", "fixtures directory (default from config)")
	return cmd
}

// mustVersion resolves a version label against the loaded catalog.
func mustVersion(catalog *domain.Catalog, label string) (*domain.EucastVersion, error) {
	for _, v := range catalog.Versions {
		if v.Label == label {
			return v, nil
		}
	}
	return nil, fmt.Errorf("EUCAST version %q: %w", label, domain.ErrNotFound)
}

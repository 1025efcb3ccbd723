package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensibyte/SensiByte/internal/reinterpret"
	"github.com/sensibyte/SensiByte/internal/store"
)

func newReinterpretCommand() *cobra.Command {
	var (
		tenantID int64
		orgID    int64
		version  string
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "reinterpret",
		Short: "Re-apply EUCAST rules at a chosen version to stored results",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromDate, err := time.Parse("2006-01-02", from)
			if err != nil {
				return fmt.Errorf("parsing --from: %w", err)
			}
			toDate, err := time.Parse("2006-01-02", to)
			if err != nil {
				return fmt.Errorf("parsing --to: %w", err)
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			catalog, err := st.LoadCatalog(cmd.Context())
			if err != nil {
				return err
			}
			tenant, err := st.LoadTenantCatalog(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			v, err := mustVersion(catalog, version)
			if err != nil {
				return err
			}

			w := store.Window{TenantID: tenantID, From: fromDate, To: toDate}
			if orgID != 0 {
				w.TenantOrganismID = &orgID
			}

			svc := reinterpret.NewService(st, catalog, tenant, logger)
			n, err := svc.Batch(cmd.Context(), w, v.ID)
			if err != nil {
				return err
			}
			fmt.Printf("reinterpretations written: %d\n", n)
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().Int64Var(&orgID, "organism", 0, "restrict to one tenant organism id")
	cmd.Flags().StringVar(&version, "version", "", "target EUCAST version label")
	cmd.Flags().StringVar(&from, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "window end (YYYY-MM-DD)")
	for _, f := range []string{"tenant", "version", "from", "to"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

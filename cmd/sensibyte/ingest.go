package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sensibyte/SensiByte/internal/ingest"
	"github.com/sensibyte/SensiByte/internal/parse"
)

func newIngestCommand() *cobra.Command {
	var (
		tenantID  int64
		orgID     int64
		mapping   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest antibiogram spreadsheets for one organism",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			mechs, err := st.Mechanisms(cmd.Context())
			if err != nil {
				return err
			}
			subs, err := st.Subtypes(cmd.Context())
			if err != nil {
				return err
			}

			hasher := parse.NewHasher(cfg.Hash.SaltPre, cfg.Hash.SaltPost)
			pipeline := ingest.NewPipeline(st, catalog, tenant, mechs, subs, hasher, logger)

			counters, rowErrors, err := pipeline.Run(cmd.Context(), args, ingest.Options{
				TenantOrganismID: orgID,
				Mapping:          mapping,
			})
			if err != nil {
				return err
			}

			for _, re := range rowErrors {
				logger.WithError(re.Err).Warnf("%s row %d failed", re.File, re.Row)
			}
			fmt.Printf("records: %d created, %d reused; isolates: %d; duplicates: %d; errors: %d\n",
				counters.RecordsCreated-counters.OrphansRemoved, counters.RecordsReused,
				counters.IsolatesCreated, counters.DuplicatesSkipped, counters.RowErrors)
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().Int64Var(&orgID, "organism", 0, "tenant organism id the files describe")
	cmd.Flags().StringToStringVar(&mapping, "map", map[string]string{},
		"semantic-to-column mapping, e.g. nh=NHC,fecha=Fecha,edad=Edad")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("organism")
	return cmd
}

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"sipengine/internal/db"
)

func tickCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and print the report as JSON",
		Long: `Runs every subscription that is due now, then exits.

Safe to run next to a serving instance: periods already executed are skipped
and the tick lease keeps two passes from overlapping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, dbConn, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer log.Sync()
			defer db.Close(dbConn)

			a := newApp(cfg, log, dbConn)
			defer a.close()

			report, err := a.coordinator.Tick(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

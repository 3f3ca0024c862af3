package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sipengine/internal/db"
)

func migrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, dbConn, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer db.Close(dbConn)
			defer log.Sync()
			log.Info("schema up to date", zap.String("driver", dbConn.Driver))
			return nil
		},
	}
}

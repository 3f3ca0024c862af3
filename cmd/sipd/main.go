package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sipengine/internal/config"
	"sipengine/internal/db"
	"sipengine/internal/logger"

	_ "sipengine/docs"
)

var Version = "dev"

type rootFlags struct {
	configPath string
	envOnly    bool
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "sipd",
		Short:         "Recurring investment scheduler and bundle allocation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath(), "config file (env: SIP_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&flags.envOnly, "env-only", envOnlyDefault(), "read configuration from SIP_* env vars only (env: SIP_ENV_ONLY)")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(tickCmd(flags))
	rootCmd.AddCommand(migrateCmd(flags))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("SIP_CONFIG"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func envOnlyDefault() bool {
	raw := os.Getenv("SIP_ENV_ONLY")
	return strings.EqualFold(raw, "true") || raw == "1"
}

// bootstrap loads config, builds the logger and opens a migrated database.
func bootstrap(flags *rootFlags) (config.Config, *zap.Logger, *db.DB, error) {
	cfg, err := config.Load(flags.configPath, flags.envOnly)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("build logger: %w", err)
	}
	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		_ = db.Close(dbConn)
		return config.Config{}, nil, nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return cfg, log, dbConn, nil
}

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/meetstream/internal/config"
	"github.com/dkeye/meetstream/internal/logging"
	"github.com/dkeye/meetstream/internal/records"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the meetings table in the records database",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Mode, cfg.LogLevel)

	if cfg.Records.Backend != "postgres" {
		return fmt.Errorf("migrate needs records.backend=postgres, have %q", cfg.Records.Backend)
	}

	pgCfg := records.DefaultPostgresConfig()
	pgCfg.URL = cfg.Records.DatabaseURL
	db, err := records.OpenPostgres(cmd.Context(), pgCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := records.NewPostgresRepository(db).Migrate(cmd.Context()); err != nil {
		return err
	}
	log.Info().Str("module", "migrate").Msg("records schema ready")
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	marcidb "github.com/den59k/marci-db"
	"github.com/den59k/marci-db/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the data directory and serve HTTP requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := buildLogger(cfg.Debug)
		if err != nil {
			return err
		}
		defer logger.Sync()

		src, err := os.ReadFile(cfg.SchemaPath)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		schema, err := marcidb.LoadSchemaFile(cfg.SchemaPath, src)
		if err != nil {
			return err
		}

		db, err := marcidb.Open(cfg.DataDir, schema, marcidb.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer db.Close()

		logger.Info("database open",
			zap.String("data_dir", cfg.DataDir),
			zap.String("schema", cfg.SchemaPath),
			zap.Int("models", len(schema.Models)))
		return server.New(db, logger).Run(cfg.ListenAddr)
	},
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/personas-nlq/backend/internal/app"
	"github.com/personas-nlq/backend/internal/cache/dataset"
	"github.com/personas-nlq/backend/internal/cache/redis"
	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/config"
	appLogger "github.com/personas-nlq/backend/pkg/logger"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load people from a YAML file into the SQLite store",
	Long: `seed upserts every person in the file into the SQLite database at
sqlite.path, keyed by document number. A cached Redis snapshot is dropped
afterwards so the next query sees the new rows.`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML file with a 'personas' list")
	_ = seedCmd.MarkFlagRequired("file")
}

type seedDocument struct {
	Personas []models.PersonSeed `yaml:"personas"`
}

func readSeed(path string) ([]models.PersonSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if len(doc.Personas) == 0 {
		return nil, fmt.Errorf("seed file %s has no personas", path)
	}
	return doc.Personas, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	seeds, err := readSeed(seedFile)
	if err != nil {
		return err
	}

	sc, err := app.OpenSQLite(cfg.SQLite.Path)
	if err != nil {
		return err
	}
	defer sc.Close(context.Background())

	for i, p := range seeds {
		if err := sc.UpsertPerson(ctx, p); err != nil {
			return fmt.Errorf("person %d (%s): %w", i+1, p.DocumentID, err)
		}
	}
	appLogger.Info("Seed loaded", zap.String("file", seedFile), zap.Int("personas", len(seeds)))

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, snapshot not invalidated", zap.Error(err))
		} else {
			defer rc.Close()
			if err := rc.DeleteSnapshot(ctx, dataset.SnapshotKey); err != nil {
				appLogger.Warn("Failed to invalidate dataset snapshot", zap.Error(err))
			}
		}
	}

	if cfg.Store.Driver != config.StoreSQLite {
		appLogger.Warn("Store driver is not sqlite, the server will not read these rows",
			zap.String("driver", cfg.Store.Driver))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d personas cargadas en %s\n", len(seeds), cfg.SQLite.Path)
	return nil
}

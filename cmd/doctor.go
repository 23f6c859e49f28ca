package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/config"
	"github.com/nextlevelbuilder/agentmesh/internal/embedder"
	"github.com/nextlevelbuilder/agentmesh/internal/store/sqlite"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
)

// doctorCmd checks each configured subsystem and reports pass/fail.
// Exits non-zero when any check fails so scripts can gate on it.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			setupLogging()
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			failed := false
			check := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Printf("  FAIL  %-10s %v\n", name, err)
					return
				}
				fmt.Printf("  ok    %s\n", name)
			}

			cfg, err := loadConfig()
			check("config", err)
			if err != nil {
				os.Exit(exitRuntime)
			}

			check("database", checkDatabase(cfg))
			check("embedder", checkEmbedder(ctx, cfg))
			check("vector", checkVector(cfg))

			if failed {
				os.Exit(exitRuntime)
			}
		},
	}
}

func checkDatabase(cfg *config.Config) error {
	db, err := sqlite.Open(cfg.DatabasePath(), cfg.Database.Readers)
	if err != nil {
		return err
	}
	defer db.Close()

	v, dirty, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", v)
	}
	return nil
}

func checkVector(cfg *config.Config) error {
	if cfg.Vector.Local || cfg.Vector.URL == "" {
		return nil
	}
	host, port, useTLS, err := config.ParseVectorURL(cfg.Vector.URL)
	if err != nil {
		return err
	}
	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedder.Provider,
		Model:     cfg.Embedder.Model,
		Dimension: cfg.Embedder.Dimension,
	})
	if err != nil {
		return err
	}
	idx, err := vector.NewQdrant(vector.Config{
		Host: host, Port: port, UseTLS: useTLS,
		APIKey:     cfg.Vector.APIKey,
		Collection: cfg.Vector.Collection,
		Dimension:  emb.Dimension(),
	})
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = idx.Count(ctx)
	return err
}

func checkEmbedder(ctx context.Context, cfg *config.Config) error {
	if cfg.Vector.URL == "" && !cfg.Vector.Local {
		return nil
	}
	emb, err := embedder.New(embedder.Config{
		Provider: cfg.Embedder.Provider,
		BaseURL:  cfg.Embedder.BaseURL,
		APIKey:   cfg.Embedder.APIKey,
		Model:    cfg.Embedder.Model,
	})
	if err != nil {
		return err
	}
	vec, err := emb.Embed(ctx, "connectivity probe")
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return fmt.Errorf("embedder returned an empty vector")
	}
	return nil
}

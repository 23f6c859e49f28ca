package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
	"github.com/nextlevelbuilder/agentmesh/internal/config"
	"github.com/nextlevelbuilder/agentmesh/internal/embedder"
	"github.com/nextlevelbuilder/agentmesh/internal/gateway"
	"github.com/nextlevelbuilder/agentmesh/internal/reconcile"
	"github.com/nextlevelbuilder/agentmesh/internal/telemetry"
	"github.com/nextlevelbuilder/agentmesh/internal/vector"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker and stream gateway",
		Run:   runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracing(flushCtx)
	}()

	b, err := openBroker(cfg)
	if err != nil {
		fail(err)
	}
	defer b.Close()

	if cfg.Sessions.PurgeSchedule != "" {
		go func() {
			if err := b.RunSessionPurge(ctx, cfg.Sessions.PurgeSchedule); err != nil && ctx.Err() == nil {
				slog.Error("session purge stopped", "error", err)
			}
		}()
	}

	if cfg.Reconcile.ConfigPath != "" {
		rec := reconcile.New(b)
		statePath := config.ExpandHome(cfg.Reconcile.ConfigPath)
		agentsDir := config.ExpandHome(cfg.Reconcile.AgentsDir)

		if _, err := rec.Reconcile(ctx, statePath, agentsDir); err != nil {
			slog.Error("initial reconcile failed", "error", err)
		}
		if cfg.Reconcile.Watch {
			w, err := reconcile.NewWatcher(rec, statePath, agentsDir)
			if err != nil {
				slog.Error("reconcile watch unavailable", "error", err)
			} else {
				go w.Run(ctx)
			}
		}
	}

	srv := gateway.NewServer(cfg, b)
	if err := srv.Start(ctx); err != nil {
		fail(err)
	}
}

// openBroker assembles the embedder, the vector index, and the broker
// from config. Semantic search is enabled only when both an index and
// an embedder resolve.
func openBroker(cfg *config.Config) (*broker.Broker, error) {
	var (
		emb embedder.Embedder
		idx vector.Index
		err error
	)

	vcfg := vector.Config{
		Collection:   cfg.Vector.Collection,
		MetadataKeys: cfg.Vector.MetadataKeys,
	}
	switch {
	case cfg.Vector.Local:
		vcfg.Provider = "memory"
	case cfg.Vector.URL != "":
		host, port, useTLS, perr := config.ParseVectorURL(cfg.Vector.URL)
		if perr != nil {
			return nil, perr
		}
		vcfg.Provider = "qdrant"
		vcfg.Host, vcfg.Port, vcfg.UseTLS = host, port, useTLS
		vcfg.APIKey = cfg.Vector.APIKey
	}

	if vcfg.Provider != "" {
		emb, err = embedder.New(embedder.Config{
			Provider:          cfg.Embedder.Provider,
			BaseURL:           cfg.Embedder.BaseURL,
			APIKey:            cfg.Embedder.APIKey,
			Model:             cfg.Embedder.Model,
			Dimension:         cfg.Embedder.Dimension,
			RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		vcfg.Dimension = emb.Dimension()

		idx, err = vector.New(vcfg)
		if err != nil {
			return nil, err
		}
	}

	return broker.Open(broker.Options{
		DBPath:       cfg.DatabasePath(),
		Readers:      cfg.Database.Readers,
		Index:        idx,
		Embed:        emb,
		MetadataKeys: cfg.Vector.MetadataKeys,
	})
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
	"github.com/nextlevelbuilder/agentmesh/internal/config"
	"github.com/nextlevelbuilder/agentmesh/internal/reconcile"
)

func reconcileCmd() *cobra.Command {
	var statePath, agentsDir string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply the declarative desired state once",
		Run: func(cmd *cobra.Command, args []string) {
			withBroker(func(ctx context.Context, b *broker.Broker) {
				cfg, err := loadConfig()
				if err != nil {
					fail(err)
				}
				if statePath == "" {
					statePath = cfg.Reconcile.ConfigPath
				}
				if agentsDir == "" {
					agentsDir = cfg.Reconcile.AgentsDir
				}
				if statePath == "" {
					fail(fmt.Errorf("no desired-state file: set --state or reconcile.config_path"))
				}

				rec := reconcile.New(b)
				record, err := rec.Reconcile(ctx, config.ExpandHome(statePath), config.ExpandHome(agentsDir))
				if err != nil {
					fail(err)
				}
				fmt.Printf("applied %d actions (%s)\n", record.Actions, record.ConfigHash)
			})
		},
	}
	cmd.Flags().StringVar(&statePath, "state", "", "desired-state YAML file")
	cmd.Flags().StringVar(&agentsDir, "agents-dir", "", "directory of agent markdown files")
	return cmd
}

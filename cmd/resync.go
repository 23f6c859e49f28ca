package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
)

func resyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Repair the vector index from the relational store",
		Long:  "Compares message rows against the vector index, re-embeds rows missing from the index, and removes orphaned points.",
		Run: func(cmd *cobra.Command, args []string) {
			withBroker(func(ctx context.Context, b *broker.Broker) {
				report, err := b.SyncCheck(ctx)
				if err != nil {
					fail(err)
				}
				fmt.Printf("relational: %d\nindexed: %d\nreindexed: %d\nremoved: %d\n",
					report.Relational, report.Indexed, report.Reindexed, report.Removed)
			})
		},
	}
}

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/broker"
	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// linksCmd manages cross-project links. Projects are addressed by
// filesystem path; ids are derived the same way the broker derives them.
func linksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Manage cross-project links",
	}
	cmd.AddCommand(linkCmd())
	cmd.AddCommand(unlinkCmd())
	cmd.AddCommand(linkStatusCmd())
	cmd.AddCommand(linkListCmd())
	return cmd
}

func linkCmd() *cobra.Command {
	var linkType string
	cmd := &cobra.Command{
		Use:   "link <project-a> <project-b>",
		Short: "Link two projects for cross-project discovery",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withBroker(func(ctx context.Context, b *broker.Broker) {
				lt := store.LinkType(linkType)
				if lt == "" {
					lt = store.LinkBidirectional
				}
				a, bid := store.ProjectID(args[0]), store.ProjectID(args[1])
				if err := b.LinkProjects(ctx, a, bid, lt); err != nil {
					fail(err)
				}
				fmt.Printf("linked %s <-> %s (%s)\n", args[0], args[1], lt)
			})
		},
	}
	cmd.Flags().StringVar(&linkType, "type", "", "link type: bidirectional | a_to_b | b_to_a")
	return cmd
}

func unlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <project-a> <project-b>",
		Short: "Remove a project link",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withBroker(func(ctx context.Context, b *broker.Broker) {
				if err := b.UnlinkProjects(ctx, store.ProjectID(args[0]), store.ProjectID(args[1])); err != nil {
					fail(err)
				}
				fmt.Printf("unlinked %s <-> %s\n", args[0], args[1])
			})
		},
	}
}

func linkStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-a> <project-b>",
		Short: "Show whether two projects are linked",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			withBroker(func(ctx context.Context, b *broker.Broker) {
				l, err := b.LinkStatus(ctx, store.ProjectID(args[0]), store.ProjectID(args[1]))
				if errors.Is(err, store.ErrNotFound) {
					fmt.Println("not linked")
					return
				}
				if err != nil {
					fail(err)
				}
				state := "disabled"
				if l.Enabled {
					state = "enabled"
				}
				fmt.Printf("linked (%s, %s)\n", l.LinkType, state)
			})
		},
	}
}

func linkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all project links",
		Run: func(cmd *cobra.Command, args []string) {
			withBroker(func(ctx context.Context, b *broker.Broker) {
				links, err := b.ListLinks(ctx)
				if err != nil {
					fail(err)
				}
				if len(links) == 0 {
					fmt.Println("no links")
					return
				}
				for _, l := range links {
					state := "disabled"
					if l.Enabled {
						state = "enabled"
					}
					fmt.Printf("%s <-> %s  %s  %s\n", l.ProjectA, l.ProjectB, l.LinkType, state)
				}
			})
		},
	}
}

// withBroker opens the broker from config, runs fn, and closes it.
func withBroker(fn func(ctx context.Context, b *broker.Broker)) {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		fail(err)
	}
	b, err := openBroker(cfg)
	if err != nil {
		fail(err)
	}
	defer b.Close()

	fn(context.Background(), b)
}

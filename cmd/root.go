package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/config"
	"github.com/nextlevelbuilder/agentmesh/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/agentmesh/cmd.Version=v1.0.0"
var Version = "dev"

// Exit codes: 0 ok, 1 argument error, 2 runtime error.
const (
	exitOK      = 0
	exitUsage   = 1
	exitRuntime = 2
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "agentmesh",
	Short: "AgentMesh, a multi-agent messaging broker",
	Long:  "AgentMesh: channel and DM messaging for coding agents with membership-carried permissions, hybrid semantic search, and a live event stream.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $AGENTMESH_CONFIG or ~/.agentmesh/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(linksCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(resyncCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentmesh %s (protocol %s)\n", Version, protocol.Version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.ResolveConfigPath(cfgFile))
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// fail prints the error and exits with the runtime code.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitRuntime)
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitUsage)
	}
}

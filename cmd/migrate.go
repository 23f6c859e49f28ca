package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentmesh/internal/store/sqlite"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration management",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func openDB() *sqlite.DB {
	setupLogging()
	cfg, err := loadConfig()
	if err != nil {
		fail(err)
	}
	db, err := sqlite.Open(cfg.DatabasePath(), cfg.Database.Readers)
	if err != nil {
		fail(err)
	}
	return db
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Run: func(cmd *cobra.Command, args []string) {
			db := openDB()
			defer db.Close()

			if err := db.Migrate(); err != nil {
				fail(err)
			}
			v, dirty, _ := db.SchemaVersion()
			fmt.Printf("schema version: %d, dirty: %v\n", v, dirty)
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (default: 1 step)",
		Run: func(cmd *cobra.Command, args []string) {
			db := openDB()
			defer db.Close()

			if steps <= 0 {
				steps = 1
			}
			if err := db.MigrateDown(steps); err != nil {
				fail(err)
			}
			v, dirty, _ := db.SchemaVersion()
			fmt.Printf("schema version: %d, dirty: %v\n", v, dirty)
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of steps to roll back")
	return cmd
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show current migration version",
		Run: func(cmd *cobra.Command, args []string) {
			db := openDB()
			defer db.Close()

			v, dirty, err := db.SchemaVersion()
			if err != nil {
				fail(err)
			}
			fmt.Printf("schema version: %d, dirty: %v\n", v, dirty)
		},
	}
}

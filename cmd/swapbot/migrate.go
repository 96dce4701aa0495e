package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	coreconfig "github.com/m3rciful/swapbot/core/config"
	coredatabase "github.com/m3rciful/swapbot/core/database"
	"github.com/m3rciful/swapbot/core/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLogger(func(cfg *coreconfig.Config) error {
			if err := coredatabase.RunMigrations(cfg.Database); err != nil {
				return err
			}
			color.Green("Migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back the last migrations (default 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid steps %q", args[0])
			}
			steps = n
		}
		return withLogger(func(cfg *coreconfig.Config) error {
			if err := coredatabase.RollbackMigrations(cfg.Database, steps); err != nil {
				return err
			}
			color.Yellow("Rolled back %d migration(s)", steps)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withLogger loads the config and runs fn with the structured logger set up.
func withLogger(fn func(cfg *coreconfig.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Shutdown() }()
	return fn(cfg)
}

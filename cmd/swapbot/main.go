package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/m3rciful/swapbot/core/buildinfo"
	corecmd "github.com/m3rciful/swapbot/core/cmd"
	coreconfig "github.com/m3rciful/swapbot/core/config"
)

const (
	configEnvVar      = "SWAPBOT_CONFIG"
	defaultConfigPath = "config.yaml"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "swapbot",
	Short: "Telegram exchange bot for PremiumExchanger",
	Long: `swapbot runs a Telegram bot that quotes and creates exchange orders
through the PremiumExchanger user API.

Examples:
  swapbot run
  swapbot migrate up
  swapbot directions --give USDT
  swapbot quote 1 150.5 --pivot get`,
	Version:       fmt.Sprintf("%s (%s)", buildinfo.Version, buildinfo.Commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $"+configEnvVar+" or "+defaultConfigPath+")")
}

func runOptions() corecmd.Options {
	return corecmd.Options{
		ConfigPath:        configPath,
		ConfigEnvVar:      configEnvVar,
		DefaultConfigPath: defaultConfigPath,
		EnvFiles:          []string{".env"},
	}
}

func loadConfig() (*coreconfig.Config, error) {
	return corecmd.LoadConfig(runOptions())
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "\n%s %v\n\n", color.RedString("Error:"), err)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

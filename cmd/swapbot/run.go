package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/m3rciful/swapbot/bot"
	"github.com/m3rciful/swapbot/core/bootstrap"
	corecmd "github.com/m3rciful/swapbot/core/cmd"
	coreconfig "github.com/m3rciful/swapbot/core/config"
	"github.com/m3rciful/swapbot/exchanger"
	"github.com/m3rciful/swapbot/profile"
)

var noDatabase bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Telegram bot",
	Long: `Run the Telegram bot until interrupted.

The database is migrated on start. With --no-db the bot runs without
profiles: no saved defaults, no history and no auto-filled fields.`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&noDatabase, "no-db", false, "Run without the profile database")
}

func runBot(cmd *cobra.Command, args []string) error {
	var infra *bootstrap.Result
	defer func() { _ = infra.Close() }()

	opts := runOptions()
	opts.Bootstrap = func(ctx context.Context, cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
		client := exchanger.New(cfg.Exchanger)
		cache := exchanger.NewDirectionCache(client, time.Duration(cfg.Exchanger.DirectionsTTLSeconds)*time.Second, nil)

		res, err := bootstrap.Run(ctx, bootstrap.Options{
			Config:       cfg,
			SkipDatabase: noDatabase,
			Modules: bootstrap.Modules{
				{Name: "exchanger.directions", Warmer: cache, Optional: true},
			},
		})
		if err != nil {
			return nil, err
		}
		infra = res

		deps := bot.Deps{Exchange: exchanger.NewGateway(client, cache, cfg.Exchanger.PartnerID)}
		if res.DB != nil {
			deps.Profiles = profile.NewStore(res.DB)
		}
		return bot.NewApp(cfg, deps), nil
	}
	return corecmd.Run(opts)
}

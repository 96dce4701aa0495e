package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/m3rciful/swapbot/exchanger"
)

var (
	ordersLimit int
	ordersSince time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check exchanger API credentials",
	Args:  cobra.NoArgs,
	RunE:  runPing,
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders created through the API",
	Long: `List orders created with the configured API account.

Examples:
  swapbot orders --limit 20
  swapbot orders --since 24h --json`,
	Args: cobra.NoArgs,
	RunE: runOrders,
}

func init() {
	rootCmd.AddCommand(pingCmd, ordersCmd)
	pingCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	ordersCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	ordersCmd.Flags().IntVar(&ordersLimit, "limit", 10, "Maximum number of orders")
	ordersCmd.Flags().DurationVar(&ordersSince, "since", 0, "Only orders created within this window (e.g. 24h)")
}

func newClient() (*exchanger.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return exchanger.New(cfg.Exchanger), nil
}

func runPing(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	var conn exchanger.Connection
	err = withSpinner("Connecting...", func() error {
		conn, err = client.Test(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(conn)
	}
	color.Green("\n✓ Connected")
	fmt.Printf("  User:     %s\n", color.CyanString(conn.UserID))
	fmt.Printf("  IP:       %s\n", conn.IP)
	fmt.Printf("  Locale:   %s\n", conn.Locale)
	if conn.PartnerID != "" {
		fmt.Printf("  Partner:  %s\n", conn.PartnerID)
	}
	fmt.Println()
	return nil
}

func runOrders(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	filter := exchanger.ExchangeFilter{Limit: ordersLimit}
	if ordersSince > 0 {
		filter.StartTime = time.Now().Add(-ordersSince).Unix()
	}
	var bids []exchanger.Bid
	err = withSpinner("Fetching orders...", func() error {
		bids, err = client.Exchanges(cmd.Context(), filter)
		return err
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(bids)
	}
	if len(bids) == 0 {
		fmt.Println("\nNo orders found.")
		return nil
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("  ORDERS (%d)", len(bids))
	fmt.Println(strings.Repeat("=", 70))
	for _, b := range bids {
		fmt.Printf("  %-8s %s %s → %s %s  %s\n",
			color.CyanString(b.ID),
			b.AmountGive, b.CurrencyGive,
			b.AmountGet, b.CurrencyGet,
			color.HiBlackString(b.StatusTitle))
	}
	fmt.Println()
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	coreconfig "github.com/m3rciful/swapbot/core/config"
	"github.com/m3rciful/swapbot/exchange/catalog"
	"github.com/m3rciful/swapbot/exchange/order"
	"github.com/m3rciful/swapbot/exchange/quote"
	"github.com/m3rciful/swapbot/exchanger"
)

var (
	jsonOutput    bool
	filterGive    string
	filterGet     string
	quotePivot    string
	watchStatus   bool
	watchInterval int
)

var directionsCmd = &cobra.Command{
	Use:     "directions",
	Aliases: []string{"dirs"},
	Short:   "List exchange directions",
	Long: `List the directions offered by the exchanger.

Examples:
  swapbot directions
  swapbot directions --give USDT --get RUB`,
	Args: cobra.NoArgs,
	RunE: runDirections,
}

var quoteCmd = &cobra.Command{
	Use:   "quote <direction-id> <amount>",
	Short: "Calculate an exchange",
	Long: `Calculate an exchange for a direction. The amount is what you give,
or what you get with --pivot get.`,
	Args: cobra.ExactArgs(2),
	RunE: runQuote,
}

var statusCmd = &cobra.Command{
	Use:   "status <hash>",
	Short: "Check the status of an order",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(directionsCmd, quoteCmd, statusCmd)
	for _, c := range []*cobra.Command{directionsCmd, quoteCmd, statusCmd} {
		c.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	}
	directionsCmd.Flags().StringVar(&filterGive, "give", "", "Filter by the currency you give")
	directionsCmd.Flags().StringVar(&filterGet, "get", "", "Filter by the currency you get")
	quoteCmd.Flags().StringVar(&quotePivot, "pivot", string(quote.PivotGive), "Side of the amount: give or get")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Poll until the order is settled or failed")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 15, "Polling interval in seconds")
}

func newGateway() (*exchanger.Gateway, *coreconfig.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return exchanger.NewGateway(exchanger.New(cfg.Exchanger), nil, cfg.Exchanger.PartnerID), cfg, nil
}

// withSpinner shows a spinner around fn unless the output is JSON.
func withSpinner(suffix string, fn func() error) error {
	if jsonOutput {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	err := fn()
	s.Stop()
	return err
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDirections(cmd *cobra.Command, args []string) error {
	gw, _, err := newGateway()
	if err != nil {
		return err
	}
	var dirs []catalog.Direction
	err = withSpinner("Fetching directions...", func() error {
		dirs, err = gw.FetchDirections(cmd.Context())
		return err
	})
	if err != nil {
		return err
	}

	filtered := dirs[:0]
	for _, d := range dirs {
		if containsFold(d.GiveLabel, filterGive) && containsFold(d.GetLabel, filterGet) {
			filtered = append(filtered, d)
		}
	}
	if jsonOutput {
		return printJSON(filtered)
	}
	if len(filtered) == 0 {
		fmt.Println("\nNo directions found matching the criteria.")
		return nil
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("  DIRECTIONS (%d)", len(filtered))
	fmt.Println(strings.Repeat("=", 70))
	for _, d := range filtered {
		fmt.Printf("  %-6s %s → %s\n", color.CyanString(d.ID), d.GiveLabel, d.GetLabel)
	}
	fmt.Println()
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(strings.TrimSpace(sub)))
}

func runQuote(cmd *cobra.Command, args []string) error {
	pivot := quote.Pivot(strings.ToLower(quotePivot))
	if !pivot.Valid() {
		return quote.ErrInvalidPivot
	}
	amount, err := quote.ParseAmount(args[1])
	if err != nil {
		return err
	}
	gw, _, err := newGateway()
	if err != nil {
		return err
	}
	var q quote.Quote
	err = withSpinner("Calculating...", func() error {
		q, err = gw.FetchQuote(cmd.Context(), quote.Request{DirectionID: args[0], Amount: amount, Pivot: pivot})
		return err
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(q)
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("  QUOTE: direction %s", args[0])
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  You give:  %s %s\n", color.CyanString(q.SumGive.String()), q.GiveCurrency)
	fmt.Printf("  You get:   %s %s\n", color.CyanString(q.SumGet.String()), q.GetCurrency)
	if !q.RateGive.IsZero() || !q.RateGet.IsZero() {
		fmt.Printf("  Rate:      %s %s = %s %s\n", q.RateGive, q.GiveCurrency, q.RateGet, q.GetCurrency)
	}
	fmt.Printf("  Limits:    %s – %s %s\n", q.MinGive, q.MaxGive, q.GiveCurrency)
	fmt.Printf("  Reserve:   %s %s\n", q.Reserve, q.GetCurrency)
	if q.Changed {
		color.Yellow("  Amount adjusted by the exchanger")
	}
	fmt.Println()
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	gw, cfg, err := newGateway()
	if err != nil {
		return err
	}
	statuses := order.NewStatusClassifier(order.Keywords{
		Waiting: cfg.OrderStatus.Waiting,
		Settled: cfg.OrderStatus.Settled,
		Failed:  cfg.OrderStatus.Failed,
	})
	hash := args[0]

	if !watchStatus {
		var o order.Order
		err = withSpinner("Checking order status...", func() error {
			o, err = gw.FetchOrderStatus(cmd.Context(), hash)
			return err
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(o)
		}
		displayOrder(o, statuses.Classify(o.StatusTitle))
		return nil
	}

	if jsonOutput {
		return fmt.Errorf("watch mode is not supported with JSON output")
	}
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	interval := time.Duration(watchInterval) * time.Second
	if interval <= 0 {
		interval = order.DefaultPollInterval
	}
	fmt.Printf("\nWatching order %s every %s. Press Ctrl+C to stop.\n", color.CyanString(hash), interval)

	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		o, err := gw.FetchOrderStatus(ctx, hash)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			st := statuses.Classify(o.StatusTitle)
			displayOrder(o, st)
			if !st.Active() {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}
	}
}

func displayOrder(o order.Order, st order.Status) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("  ORDER %s", o.ID)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("\n  Hash:    %s\n", color.CyanString(o.Hash))
	fmt.Printf("  Status:  %s (%s)\n", coloredStatus(st), o.StatusTitle)
	fmt.Printf("  Give:    %s %s\n", o.AmountGive, o.CurrencyGive)
	fmt.Printf("  Get:     %s %s\n", o.AmountGet, o.CurrencyGet)
	if o.URL != "" {
		fmt.Printf("  Link:    %s\n", color.HiBlackString(o.URL))
	}
	fmt.Println()
}

func coloredStatus(st order.Status) string {
	s := strings.ToUpper(st.String())
	switch st {
	case order.StatusSettled:
		return color.GreenString(s)
	case order.StatusWaiting:
		return color.YellowString(s)
	case order.StatusFailed:
		return color.RedString(s)
	default:
		return color.MagentaString(s)
	}
}

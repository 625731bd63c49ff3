package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"swing-trader/internal/bracket"
	"swing-trader/internal/models"
	"swing-trader/internal/pricer"
	"swing-trader/internal/store"
	"swing-trader/pkg/utils"
)

// addTradeCommands adds signal placement and trade inspection commands.
func addTradeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPlaceCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
}

func (app *App) newBracketManager() *bracket.Manager {
	pr := pricer.New(pricer.Config{
		TolerancePercent:     app.Config.Pricer.TolerancePercent,
		MaxDeviationPercent:  app.Config.Pricer.MaxDeviationPercent,
		MomentumMoveRatio:    app.Config.Risk.MomentumMoveRatio,
		MomentumRevertWindow: app.Config.Risk.MomentumRevertWindow,
		MomentumDrawdown:     app.Config.Risk.MomentumDrawdown,
	})
	return bracket.NewManager(app.Store, app.Broker, pr, bracket.Config{
		BrokeragePerLeg: app.Config.Risk.BrokeragePerLeg,
		Product:         models.ProductType(app.Config.Trading.DefaultProduct),
		IsLive:          !app.Config.IsPaperMode(),
	}, app.Logger)
}

func newPlaceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "place <symbol> <quantity>",
		Short: "Place a bracket trade from a signal",
		Long: `Place an adaptive-priced entry with stop-loss and target legs.

The entry price is adjusted against the live quote: small drift keeps
the signal price, moderate drift splits the difference, large drift
rejects the signal outright.`,
		Example: `  swing-trader place RELIANCE 10 --signal 2850 --sl 2790 --target 2960
  swing-trader place INFY 25 --signal 1500 --sl 1460 --target 1590 --trailing`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol := strings.ToUpper(args[0])
			qty := 0
			fmt.Sscanf(args[1], "%d", &qty)
			if qty <= 0 {
				output.Error("Invalid quantity: %s", args[1])
				return fmt.Errorf("invalid quantity")
			}

			signal, _ := cmd.Flags().GetFloat64("signal")
			sl, _ := cmd.Flags().GetFloat64("sl")
			target, _ := cmd.Flags().GetFloat64("target")
			trailing, _ := cmd.Flags().GetBool("trailing")
			trailDist, _ := cmd.Flags().GetFloat64("trail-distance")
			side, _ := cmd.Flags().GetString("side")
			exchange, _ := cmd.Flags().GetString("exchange")
			user, _ := cmd.Flags().GetString("user")

			if app.Broker == nil {
				output.Error("Broker not configured. Run 'swing-trader login' first.")
				return fmt.Errorf("broker not configured")
			}
			if app.Store == nil {
				return fmt.Errorf("store not available")
			}

			if ok, reason := app.Market.CanPlaceOrder(); !ok {
				output.Warning("Market check: %s", reason)
			}
			if exchange == "" {
				exchange = app.Config.Trading.DefaultExchange
			}
			if trailing && trailDist <= 0 {
				trailDist = app.Config.Risk.TrailingStopPercent
			}

			req := &pricer.SignalRequest{
				UserID:           user,
				Symbol:           symbol,
				Exchange:         models.Exchange(exchange),
				Instrument:       models.InstrumentEquity,
				Side:             models.OrderSide(strings.ToUpper(side)),
				Quantity:         qty,
				SignalPrice:      signal,
				StopLoss:         sl,
				Target:           target,
				TrailingEnabled:  trailing,
				TrailingDistance: trailDist,
			}
			if err := req.Validate(); err != nil {
				output.Error("Invalid signal: %v", err)
				return err
			}

			if app.Config.IsPaperMode() {
				output.Warning("📝 PAPER TRADING MODE")
			}

			mgr := app.newBracketManager()
			trade, plan, err := mgr.Place(ctx, req)
			if err != nil {
				output.Error("Placement failed: %v", err)
				return err
			}
			if plan.Rejected {
				if output.IsJSON() {
					return output.JSON(map[string]string{"rejected": plan.Reason})
				}
				output.Warning("Signal rejected: %s", plan.Reason)
				return nil
			}

			if output.IsJSON() {
				return output.JSON(trade)
			}

			output.Success("✓ Entry placed")
			output.Printf("  Trade ID: %s\n", trade.ID)
			output.Printf("  Order ID: %s\n", trade.EntryOrderID)
			output.Printf("  Entry:    %s (%s)\n", utils.FormatIndianCurrency(plan.Price), plan.OrderType)
			output.Printf("  Stop:     %s\n", utils.FormatIndianCurrency(sl))
			output.Printf("  Target:   %s\n", utils.FormatIndianCurrency(target))
			output.Printf("  Value:    %s\n", utils.FormatIndianCurrency(plan.OrderValue))
			output.Printf("  Risk:     %s  Reward: %s  (R:R %.2f)\n",
				utils.FormatIndianCurrency(plan.Risk),
				utils.FormatIndianCurrency(plan.Reward),
				plan.RiskReward)
			return nil
		},
	}

	cmd.Flags().Float64("signal", 0, "signal price the setup was computed at (required)")
	cmd.Flags().Float64("sl", 0, "stop-loss price (required)")
	cmd.Flags().Float64("target", 0, "target price (required)")
	cmd.Flags().Bool("trailing", false, "enable the trailing stop")
	cmd.Flags().Float64("trail-distance", 0, "trailing distance in percent of the high watermark")
	cmd.Flags().String("side", "BUY", "order side (BUY or SELL)")
	cmd.Flags().String("exchange", "", "exchange (default from config)")
	cmd.Flags().String("user", "default", "owner of the trade")
	cmd.MarkFlagRequired("signal")
	cmd.MarkFlagRequired("sl")
	cmd.MarkFlagRequired("target")

	return cmd
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Inspect trade records",
	}

	cmd.AddCommand(newTradesListCmd(app))
	cmd.AddCommand(newTradesShowCmd(app))
	cmd.AddCommand(newTradesArchiveCmd(app))

	return cmd
}

func newTradesListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if app.Store == nil {
				return fmt.Errorf("store not available")
			}

			status, _ := cmd.Flags().GetString("status")
			active, _ := cmd.Flags().GetBool("active")
			all, _ := cmd.Flags().GetBool("all")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := store.TradeFilter{
				Status:          models.TradeStatus(strings.ToUpper(status)),
				ActiveOnly:      active,
				IncludeArchived: all,
				Limit:           limit,
			}
			trades, err := app.Store.ListTrades(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades found")
				return nil
			}

			output.Printf("%-36s  %-10s  %-13s  %5s  %10s  %10s\n",
				"ID", "SYMBOL", "STATUS", "QTY", "ENTRY", "NET P&L")
			for _, t := range trades {
				pnl := ""
				if t.Status.Terminal() && t.Status != models.TradeCancelled {
					pnl = output.PnL(utils.FormatPnL(t.NetPnL), t.NetPnL)
				}
				flag := ""
				if t.NeedsReview {
					flag = " " + output.Red("!review")
				}
				output.Printf("%-36s  %-10s  %-13s  %5d  %10s  %10s%s\n",
					t.ID, t.Symbol, t.Status, t.Quantity,
					utils.FormatIndianCurrency(t.EntryPrice), pnl, flag)
			}
			return nil
		},
	}

	cmd.Flags().String("status", "", "filter by status (PLACED, OPEN, CANCELLED, CLOSED_TARGET, CLOSED_SL)")
	cmd.Flags().Bool("active", false, "only PLACED and OPEN trades")
	cmd.Flags().Bool("all", false, "include archived trades")
	cmd.Flags().Int("limit", 50, "maximum rows")

	return cmd
}

func newTradesShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <trade-id>",
		Short: "Show one trade in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if app.Store == nil {
				return fmt.Errorf("store not available")
			}

			user, _ := cmd.Flags().GetString("user")
			t, err := app.Store.GetTrade(ctx, user, args[0])
			if err != nil {
				output.Error("Lookup failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(t)
			}

			output.Bold("%s %s x%d (%s)", t.Side, t.Symbol, t.Quantity, t.Exchange)
			output.Printf("  Status:      %s\n", t.Status)
			output.Printf("  Signal:      %s\n", utils.FormatIndianCurrency(t.SignalPrice))
			if t.EntryPrice > 0 {
				output.Printf("  Entry:       %s on %s\n", utils.FormatIndianCurrency(t.EntryPrice), t.EntryDate.Format("2006-01-02"))
			}
			output.Printf("  Stop:        %s (raised %d times)\n", utils.FormatIndianCurrency(t.StopLoss), t.SLUpdates)
			output.Printf("  Target:      %s\n", utils.FormatIndianCurrency(t.Target))
			if t.TrailingEnabled {
				output.Printf("  Trailing:    %.2f%% below high %s\n", t.TrailingDistance, utils.FormatIndianCurrency(t.HighestPrice))
			}
			if t.Status.Terminal() && t.Status != models.TradeCancelled {
				output.Printf("  Exit:        %s (%s) on %s\n",
					utils.FormatIndianCurrency(t.ExitPrice), t.ExitReason, t.CompletedAt.Format("2006-01-02"))
				output.Printf("  Gross P&L:   %s\n", output.PnL(utils.FormatPnL(t.GrossPnL), t.GrossPnL))
				output.Printf("  Net P&L:     %s\n", output.PnL(utils.FormatPnL(t.NetPnL), t.NetPnL))
			}
			if t.StatusMessage != "" {
				output.Printf("  Note:        %s\n", t.StatusMessage)
			}
			if t.NeedsReview {
				output.Warning("  Needs manual review")
			}
			return nil
		},
	}
	cmd.Flags().String("user", "", "restrict the lookup to this owner")
	return cmd
}

func newTradesArchiveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <trade-id>",
		Short: "Archive a completed trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if app.Store == nil {
				return fmt.Errorf("store not available")
			}

			user, _ := cmd.Flags().GetString("user")
			t, err := app.Store.GetTrade(ctx, user, args[0])
			if err != nil {
				return err
			}
			if err := t.Archive(); err != nil {
				output.Error("Cannot archive: %v", err)
				return err
			}
			if err := app.Store.UpdateTrade(ctx, t); err != nil {
				return err
			}
			output.Success("✓ Trade archived")
			return nil
		},
	}
	cmd.Flags().String("user", "", "restrict the lookup to this owner")
	return cmd
}

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"swing-trader/internal/bracket"
	"swing-trader/internal/metrics"
	"swing-trader/internal/models"
	"swing-trader/internal/momentum"
	"swing-trader/internal/resolver"
	"swing-trader/internal/trailing"
	"swing-trader/internal/worker"
)

// addRunCommands adds the worker daemon and related commands.
func addRunCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newWorkersCmd(app))
	rootCmd.AddCommand(newResolveCmd(app))
}

func (app *App) newSupervisor(mgr *bracket.Manager) *worker.Supervisor {
	trail := trailing.NewEngine(app.Store, app.Broker, app.Logger)
	mon := momentum.NewMonitor(app.Store, app.Broker, momentum.Thresholds{
		MoveRatio:    app.Config.Risk.MomentumMoveRatio,
		RevertWindow: app.Config.Risk.MomentumRevertWindow,
		Drawdown:     app.Config.Risk.MomentumDrawdown,
	}, app.Logger)
	res := resolver.New(app.Store, app.Broker, resolver.Config{
		MaxHoldingDays:  app.Config.Risk.MaxHoldingDays,
		BrokeragePerLeg: app.Config.Risk.BrokeragePerLeg,
	}, app.Logger)

	w := app.Config.Workers
	runners := []*worker.Runner{
		worker.NewRunner("bracket", w.OrderMonitorInterval, w.OffHoursInterval, false,
			mgr.Tick, app.Market, app.Store, app.Logger),
		worker.NewRunner("trailing", w.TrailingStopInterval, w.OffHoursInterval, true,
			trail.Tick, app.Market, app.Store, app.Logger),
		worker.NewRunner("momentum", w.MomentumInterval, w.OffHoursInterval, true,
			mon.Tick, app.Market, app.Store, app.Logger),
		worker.NewRunner("resolver", w.ResolverInterval, w.OffHoursInterval, false,
			res.Tick, app.Market, app.Store, app.Logger),
	}

	return worker.NewSupervisor(runners, app.Store, app.Logger)
}

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the lifecycle workers",
		Long: `Run all background workers until interrupted.

Workers poll order state, trail stops, cancel faded entries and resolve
open trades. Market-hours-only workers sleep through nights, weekends
and exchange holidays.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.Broker == nil {
				output.Error("Broker not configured. Run 'swing-trader login' first.")
				return fmt.Errorf("broker not configured")
			}
			if app.Store == nil {
				return fmt.Errorf("store not available")
			}

			if app.Config.IsPaperMode() {
				output.Warning("📝 PAPER TRADING MODE")
			}

			var metricsSrv *http.Server
			if app.Config.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				metricsSrv = &http.Server{Addr: app.Config.Metrics.ListenAddr, Handler: mux}
				go func() {
					app.Logger.Info().Str("addr", metricsSrv.Addr).Msg("Metrics server listening")
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						app.Logger.Error().Err(err).Msg("Metrics server failed")
					}
				}()
			}

			mgr := app.newBracketManager()
			sup := app.newSupervisor(mgr)
			sup.Start(context.Background())

			// Live sessions also take the push path: brokerage postbacks
			// advance trades between polling ticks.
			streamCtx, stopStream := context.WithCancel(context.Background())
			defer stopStream()
			if !app.Config.IsPaperMode() && app.Zerodha != nil && app.Zerodha.IsAuthenticated() {
				stream := app.Zerodha.OrderStream()
				go stream.Run(streamCtx, func(order models.Order) {
					if err := mgr.HandleOrderUpdate(context.Background(), order); err != nil {
						app.Logger.Warn().Err(err).Str("order_id", order.ID).Msg("Order update handling failed")
					}
				}, func(err error) {
					app.Logger.Error().Err(err).Msg("Order stream error")
				})
			}

			output.Success("✓ Workers running, press Ctrl-C to stop")

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			<-sig

			output.Println("Shutting down...")
			stopStream()
			sup.Stop()
			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				metricsSrv.Shutdown(shutdownCtx)
			}
			return nil
		},
	}
}

func newWorkersCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Worker management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show last heartbeat per worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if app.Store == nil {
				return fmt.Errorf("store not available")
			}

			beats, err := app.Store.GetWorkerHeartbeats(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(beats)
			}
			if len(beats) == 0 {
				output.Dim("No worker heartbeats recorded")
				return nil
			}
			for name, at := range beats {
				age := time.Since(at).Round(time.Second)
				output.Printf("%-10s  last run %s (%s ago)\n", name, at.Format("15:04:05"), age)
			}
			return nil
		},
	})

	return cmd
}

func newResolveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Resolve open trades against daily bars once",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if app.Broker == nil || app.Store == nil {
				return fmt.Errorf("broker and store required")
			}

			res := resolver.New(app.Store, app.Broker, resolver.Config{
				MaxHoldingDays:  app.Config.Risk.MaxHoldingDays,
				BrokeragePerLeg: app.Config.Risk.BrokeragePerLeg,
			}, app.Logger)

			if err := res.Tick(ctx); err != nil {
				output.Error("Resolution pass failed: %v", err)
				return err
			}
			output.Success("✓ Resolution pass complete")
			return nil
		},
	}
}

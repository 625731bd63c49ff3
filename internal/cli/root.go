// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"swing-trader/internal/broker"
	"swing-trader/internal/config"
	"swing-trader/internal/logging"
	"swing-trader/internal/resilience"
	"swing-trader/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// App holds the application dependencies.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Broker  broker.Broker
	Zerodha *broker.ZerodhaBroker
	Store   store.TradeStore
	Market  *resilience.MarketHoursManager
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
		Market: resilience.NewMarketHoursManager(),
	}
	resilience.InitializeHolidays(app.Market, 2025)
	resilience.InitializeHolidays(app.Market, 2026)

	if cfg.Credentials.Zerodha.APIKey != "" {
		app.Zerodha = broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:    cfg.Credentials.Zerodha.APIKey,
			APISecret: cfg.Credentials.Zerodha.APISecret,
			UserID:    cfg.Credentials.Zerodha.UserID,
		})
		logger.Debug().Msg("Zerodha broker initialized")
	}
	if cfg.IsPaperMode() {
		// Paper fills are simulated locally; quotes and bars still come
		// from the live broker when one is configured.
		if app.Zerodha != nil {
			app.Broker = broker.NewPaperBroker(app.Zerodha)
		} else {
			app.Broker = broker.NewPaperBroker(nil)
		}
		logger.Debug().Msg("Paper broker initialized")
	} else if app.Zerodha != nil {
		app.Broker = app.Zerodha
	}

	dataStore, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "swing-trader",
		Short: "Swing Trader - order lifecycle and risk management engine",
		Long: `Swing Trader manages the full lifecycle of swing trades on the Indian
stock market: adaptive entry pricing, OCO bracket orders, trailing
stops, momentum-loss cancellation and bar-based outcome resolution.

Use 'swing-trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/swing-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addAuthCommands(rootCmd, app)
	addTradeCommands(rootCmd, app)
	addRunCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Swing Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			output.Bold("Trading")
			output.Printf("  Mode:     %s\n", app.Config.Trading.Mode)
			output.Printf("  Product:  %s\n", app.Config.Trading.DefaultProduct)
			output.Printf("  Exchange: %s\n", app.Config.Trading.DefaultExchange)
			output.Bold("Pricer")
			output.Printf("  Tolerance:     %.2f%%\n", app.Config.Pricer.TolerancePercent)
			output.Printf("  Max deviation: %.2f%%\n", app.Config.Pricer.MaxDeviationPercent)
			output.Bold("Risk")
			output.Printf("  Trailing stop:    %.2f%%\n", app.Config.Risk.TrailingStopPercent)
			output.Printf("  Brokerage/leg:    %.2f\n", app.Config.Risk.BrokeragePerLeg)
			output.Printf("  Max holding days: %d\n", app.Config.Risk.MaxHoldingDays)
			output.Bold("Store")
			output.Printf("  Database: %s\n", app.Config.Store.DatabasePath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

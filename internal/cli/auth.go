package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// addAuthCommands adds authentication commands.
func addAuthCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newLoginCmd(app))
	rootCmd.AddCommand(newLogoutCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login [request-token]",
		Short: "Authenticate with Zerodha",
		Long: `Authenticate with the Zerodha Kite Connect API.

Run without arguments to get the login URL. After completing the login
in a browser, run again with the request token from the redirect URL.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if app.Zerodha == nil {
				output.Error("Zerodha credentials not configured. Add them to credentials.toml.")
				return fmt.Errorf("credentials not configured")
			}

			if len(args) == 1 {
				if err := app.Zerodha.CompleteLogin(ctx, args[0]); err != nil {
					output.Error("Login failed: %v", err)
					return err
				}
				output.Success("✓ Logged in successfully")
				return nil
			}

			if err := app.Zerodha.Login(ctx); err != nil {
				output.Println(err.Error())
				return nil
			}
			output.Success("✓ Session restored")
			return nil
		},
	}
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the Zerodha session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if app.Zerodha == nil {
				output.Warning("Zerodha credentials not configured, nothing to do")
				return nil
			}
			if err := app.Zerodha.Logout(ctx); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}
			output.Success("✓ Logged out")
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and market status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			authenticated := app.Zerodha != nil && app.Zerodha.IsAuthenticated()
			marketStatus := app.Market.GetMarketStatus()

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"mode":          app.Config.Trading.Mode,
					"authenticated": authenticated,
					"market":        string(marketStatus),
				})
			}

			output.Printf("Mode:   %s\n", app.Config.Trading.Mode)
			if authenticated {
				output.Printf("Session: %s\n", output.Green("active"))
			} else {
				output.Printf("Session: %s\n", output.Red("not authenticated"))
			}
			output.Printf("Market: %s\n", marketStatus)
			if app.Market.IsMarketOpen() {
				output.Dim("Closes in %s", app.Market.TimeUntilMarketClose().Round(time.Minute))
			} else {
				output.Dim("Next open: %s", app.Market.GetNextMarketOpen().Format("Mon 2 Jan 15:04"))
			}
			return nil
		},
	}
}

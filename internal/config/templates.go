package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Swing Trader Configuration

[trading]
# Trading mode: "live" or "paper"
mode = "paper"
# Default product type: MIS, CNC, NRML
default_product = "CNC"
# Default exchange: NSE, BSE
default_exchange = "NSE"

[pricer]
# Deviation (percent of market price) below which the signal price is used as-is
tolerance_percent = 2.0
# Deviation above which the signal is rejected outright
max_deviation_percent = 5.0

[risk]
# Trailing stop distance as percentage below the session high
trailing_stop_percent = 1.5
# Flat brokerage per executed leg, INR
brokerage_per_leg = 20.0
# Force-close open trades after this many calendar days
max_holding_days = 120
# Momentum-loss detection: fraction of distance-to-target that counts as real movement
momentum_move_ratio = 0.30
# Momentum-loss detection: LTP must be back within this fraction of order price
momentum_revert_window = 0.01
# Momentum-loss detection: fraction below session high that confirms the fade
momentum_drawdown = 0.03

[workers]
# Poll intervals during market hours
order_monitor_interval = "30s"
trailing_stop_interval = "30s"
momentum_interval = "60s"
resolver_interval = "15m"
# Interval used by all workers outside market hours
off_hours_interval = "5m"

[store]
# SQLite database path (defaults under the config directory)
database_path = ""

[metrics]
# Expose Prometheus metrics over HTTP
enabled = false
listen_addr = ":9187"
`

const credentialsTemplate = `# Swing Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[zerodha]
api_key = ""
api_secret = ""
user_id = ""
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}

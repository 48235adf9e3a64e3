package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
)

type rootOptions struct {
	configPath string
	envPath    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "condor",
		Short: "Iron condor options bot",
		Long: `Condor sells 16-delta SPY iron condors 30-45 days out and manages them
with profit target, stop loss, DTE and wing-breach exits.

Commands:
  run        paper-trade on a live tick loop (with the dashboard when enabled)
  backtest   replay daily bars through the same engine
  dashboard  serve the read-only API over stored positions and trades
  audit      check stored positions and trade history for inconsistencies`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.envPath, "env", ".env", "optional .env file loaded before the config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override environment.log_level")

	cmd.AddCommand(
		newRunCmd(opts),
		newBacktestCmd(opts),
		newDashboardCmd(opts),
		newAuditCmd(opts),
	)
	return cmd
}

// load reads the configuration and builds the logger it describes.
func (o *rootOptions) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.configPath, o.envPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Environment.LogLevel
	if o.logLevel != "" {
		if err := logging.ValidateLevel(o.logLevel); err != nil {
			return nil, nil, err
		}
		level = o.logLevel
	}
	return cfg, logging.New(level, cfg.Environment.LogFormat), nil
}

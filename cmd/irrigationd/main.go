// Command irrigationd drives irrigation station relays on a schedule and
// serves a small HTTP API for manual control.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/irrigationd/internal/config"
	"github.com/sweeney/irrigationd/internal/logx"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "irrigationd",
		Short: "Irrigation station controller",
		Long: `irrigationd switches irrigation stations through GPIO relays, runs
recurring watering schedules and records every action in an event log.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level from the config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newSchedulesCmd(opts))
	root.AddCommand(newEventsCmd(opts))
	return root
}

// load reads the config and builds the logger. A missing file at the
// default path falls back to built-in defaults.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	cfg := config.Default()
	if _, err := os.Stat(o.configPath); err == nil || cmd.Flags().Changed("config") {
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, zerolog.Nop(), err
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	log, err := logx.NewWriter(cmd.ErrOrStderr(), logx.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	return cfg, log, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

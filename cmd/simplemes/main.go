package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simplemes/config"
	"simplemes/logging"
	"simplemes/store"
)

type globalFlags struct {
	configPath string
	debug      bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "simplemes",
		Short: "Shop-floor production execution engine",
		Long: `simplemes drives production orders through their process steps at
operator workstations, talking to line devices through the device service.

  simplemes serve                     # run the HTTP API and background work
  simplemes migrate                   # create or upgrade the database schema
  simplemes translate DB10.0.1 --brand mitsubishi
  simplemes sweep                     # close stale workstation sessions`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "simplemes.yaml", "path to config file")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(serveCmd(g))
	cmd.AddCommand(migrateCmd(g))
	cmd.AddCommand(translateCmd())
	cmd.AddCommand(sweepCmd(g))
	return cmd
}

// setup loads config and builds the logger shared by every subcommand.
func setup(g *globalFlags) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if g.debug {
		level = "debug"
	}
	log, err := logging.New(level, cfg.Log.Format, "simplemes")
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, log, nil
}

func openDB(cfg *config.Config, log *zap.Logger) (*store.DB, error) {
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))
	return db, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simplemes/plc"
	"simplemes/sessions"
	"simplemes/workstate"
)

func migrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(g)
			if err != nil {
				return err
			}
			defer log.Sync()
			// Open migrates.
			db, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func translateCmd() *cobra.Command {
	var info plc.DeviceInfo
	cmd := &cobra.Command{
		Use:   "translate ADDRESS",
		Short: "Show the wire address sent to the device service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := plc.ParseAddress(args[0])
			if err != nil {
				return err
			}
			out, err := plc.TranslateAddress(desc, info)
			if err != nil {
				return err
			}
			dialect := "siemens"
			if plc.IsMitsubishi(info) {
				dialect = "mitsubishi"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", desc, out, dialect)
			return nil
		},
	}
	cmd.Flags().StringVar(&info.Brand, "brand", "", "device brand")
	cmd.Flags().StringVar(&info.Model, "model", "", "device model")
	cmd.Flags().StringVar(&info.LogicalType, "type", "", "logical device type")
	cmd.Flags().IntVar(&info.Port, "port", 0, "device port")
	return cmd
}

func sweepCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Close workstation sessions idle past the stale threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(g)
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			states := workstate.NewManager(db, nil, log.Named("workstate"))
			mgr := sessions.New(db, states, nil, nil, cfg.Session, log.Named("sessions"))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := mgr.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Info("sweep finished", zap.Int("closed", n))
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d stale session(s)\n", n)
			return nil
		},
	}
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_condor/internal/dashboard"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
)

func newDashboardCmd(root *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the read-only API over stored positions, trades and risk events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := storage.New(ctx, cfg.StorageOptions(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			dc := cfg.DashboardConfig()
			if port > 0 {
				dc.Port = port
			}
			return dashboard.NewServer(dc, store, nil, logger).Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides dashboard.port)")
	return cmd
}

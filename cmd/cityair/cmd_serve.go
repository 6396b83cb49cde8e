package main

import (
	"github.com/spf13/cobra"

	httpadapter "github.com/nimbuslabs/cityair-etl-service/internal/adapter/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over the fact and dimension marts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}

			srv := httpadapter.NewServer(a.cfg.HTTPAddr, store, store, a.logger)
			a.runUntilSignal(cmd.Context(), srv, nil)

			if err := store.Close(); err != nil {
				a.logger.Error("store close error", "error", err)
			}
			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	httpadapter "github.com/nimbuslabs/cityair-etl-service/internal/adapter/http"
	kafkaadapter "github.com/nimbuslabs/cityair-etl-service/internal/adapter/kafka"
	"github.com/nimbuslabs/cityair-etl-service/internal/pipeline"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Consume the raw observations topic into the raw store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}

			reader := kafkaadapter.NewReader(a.cfg, a.logger)
			ingestor := pipeline.NewIngestor(reader, store, a.logger, a.metrics, a.cfg.BatchSize)
			srv := httpadapter.NewServer(a.cfg.HTTPAddr, store, ingestor, a.logger)

			a.runUntilSignal(cmd.Context(), srv, func(ctx context.Context) {
				if err := ingestor.Run(ctx); err != nil {
					a.logger.Error("ingest error", "error", err)
				}
			})

			if err := reader.Close(); err != nil {
				a.logger.Error("kafka reader close error", "error", err)
			}
			if err := store.Close(); err != nil {
				a.logger.Error("store close error", "error", err)
			}

			a.logger.Info("shutdown complete")
			return nil
		},
	}
}

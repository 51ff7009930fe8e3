package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"forwardgate/internal/bootstrap"
)

func reconcileCmd() *cobra.Command {
	var batchSize, concurrency int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-run the gate over every channel once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStack(cmd.Context(), func(s *bootstrap.Stack) error {
				if batchSize > 0 {
					s.Config.Reconcile.BatchSize = batchSize
				}
				if concurrency > 0 {
					s.Config.Reconcile.Concurrency = concurrency
				}
				logger := bootstrap.NewLogger(s.Config.LogLevel).With("component", "consentctl")
				report, runErr := s.Reconciler(logger).Run(cmd.Context())

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "channels per page (default from RECONCILE_BATCH_SIZE)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "channels reconciled in parallel (default from RECONCILE_CONCURRENCY)")
	return cmd
}

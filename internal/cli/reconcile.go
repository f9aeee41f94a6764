package cli

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"water-order-bot/internal/app"
)

// NewReconcileCommand creates the reconcile command. It is meant for
// deployments where an external timer triggers passes.
func NewReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.Log)

			a, err := app.New(cmd.Context(), cfg, log, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.ReconcileOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconciliation pass failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}

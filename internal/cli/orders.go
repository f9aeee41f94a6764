package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"water-order-bot/internal/app"
	"water-order-bot/internal/config"
	"water-order-bot/internal/model"
)

// NewOrdersCommand creates the orders command group.
func NewOrdersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect tracked orders",
	}
	cmd.AddCommand(newOrdersListCommand())
	return cmd
}

func newOrdersListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			// Keep stdout clean for the listing.
			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			log.SetLevel(logrus.WarnLevel)

			store, closeStore, err := app.OpenStore(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			if store.Degraded() {
				return fmt.Errorf("order store is unavailable")
			}

			list, err := store.ListPending(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list orders: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			return writeOrderTable(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print orders as JSON")
	return cmd
}

func writeOrderTable(w io.Writer, list []model.PendingOrder) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No pending orders")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACKING ID\tCHAT\tSENT TO\tSENT AT\tLAST REMINDER")
	for _, o := range list {
		reminder := "-"
		if o.LastReminderAt != nil {
			reminder = o.LastReminderAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			o.TrackingID, o.ChatID, o.EmailSentTo, o.SentAt.UTC().Format(time.RFC3339), reminder)
	}
	return tw.Flush()
}

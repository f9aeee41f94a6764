package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the water-order-bot CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "water-order-bot",
		Short: "Chat bot that orders water by email and watches for the reply",
		Long: `Water Order Bot sends a delivery order email on request from a
Telegram chat, tracks the order and reports the supplier's reply back to
the chat, reminding the user every 24 hours while no reply has arrived.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewReconcileCommand())
	cmd.AddCommand(NewOrdersCommand())
	cmd.AddCommand(NewTokenCommand())

	return cmd
}

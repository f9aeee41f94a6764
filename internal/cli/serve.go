package cli

import (
	"github.com/spf13/cobra"

	"water-order-bot/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, the bot and the reconciliation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run()
		},
	}
}

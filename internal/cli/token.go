package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"water-order-bot/internal/config"
	"water-order-bot/internal/mailbox"
)

const defaultRedirectURL = "http://localhost:8080/callback"

var oauthConfig = mailbox.OAuthConfig

// NewTokenCommand creates the token command, which walks through the OAuth2
// consent flow and prints a Gmail refresh token.
func NewTokenCommand() *cobra.Command {
	var redirectURL string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Obtain a Gmail refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Gmail.ClientID == "" || cfg.Gmail.ClientSecret == "" {
				return fmt.Errorf("please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET")
			}

			oc := oauthConfig(cfg.Gmail)
			oc.RedirectURL = redirectURL

			out := cmd.OutOrStdout()
			authURL := oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
			fmt.Fprintf(out, "Go to the following link in your browser: %v\n", authURL)
			fmt.Fprintln(out, "\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")
			fmt.Fprint(out, "\nEnter the authorization code: ")

			code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			code = strings.TrimSpace(code)
			if code == "" {
				if err != nil {
					return fmt.Errorf("failed to read authorization code: %w", err)
				}
				return fmt.Errorf("authorization code is empty")
			}

			tok, err := oc.Exchange(cmd.Context(), code)
			if err != nil {
				return fmt.Errorf("unable to retrieve token: %w", err)
			}
			if tok.RefreshToken == "" {
				return fmt.Errorf("no refresh token returned; revoke the app's access and try again")
			}

			fmt.Fprintf(out, "\nRefresh Token: %s\n", tok.RefreshToken)
			fmt.Fprintln(out, "\nAdd the refresh token to your environment variables:")
			fmt.Fprintf(out, "export GMAIL_REFRESH_TOKEN=\"%s\"\n", tok.RefreshToken)
			return nil
		},
	}

	cmd.Flags().StringVar(&redirectURL, "redirect-url", defaultRedirectURL, "OAuth2 redirect URL registered for the client")
	return cmd
}

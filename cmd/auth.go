package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/receptionist/internal/config"
	"github.com/teemow/receptionist/internal/google"
)

var authFlags = map[string]string{
	"client-secrets": "google.client_secrets_path",
	"token-path":     "google.token_path",
}

func newAuthCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Calendar access with OAuth",
		Long: `Run the OAuth installed-app flow and store the resulting token.

Only needed when google.auth_method is "oauth". Service accounts with
domain-wide delegation need no interactive step.

Without --code the consent URL is printed and the code is read from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, authFlags, map[string]any{
				"google.auth_method": config.AuthOAuth,
				"calendar.backend":   config.BackendGoogle,
			})
			if err != nil {
				return err
			}
			creds := cfg.GoogleCredentials()

			out := cmd.OutOrStdout()
			if google.HasToken(creds) && code == "" {
				fmt.Fprintf(out, "A token is already stored at %s; continuing replaces it.\n", creds.TokenPath)
			}

			if code == "" {
				url, err := google.AuthURL(creds)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Visit this URL in your browser and grant calendar access:\n\n%s\n\nAuthorization code: ", url)

				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read authorization code: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			if code == "" {
				return fmt.Errorf("authorization code is required")
			}

			if err := google.ExchangeCode(cmd.Context(), creds, code); err != nil {
				return err
			}
			fmt.Fprintf(out, "Token saved to %s\n", creds.TokenPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Authorization code from the consent page")
	cmd.Flags().String("client-secrets", "", "Path to the OAuth client secrets JSON")
	cmd.Flags().String("token-path", google.DefaultTokenPath, "Where to store the OAuth token")

	return cmd
}

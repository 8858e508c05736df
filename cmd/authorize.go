package cmd

import (
	"context"
	"fmt"
	"io"

	"mediadrop/domain/storage"
	"mediadrop/infrastructure/credentials"
	"mediadrop/infrastructure/drive"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// Authorizer runs an interactive OAuth consent flow
type Authorizer func(ctx context.Context, config *oauth2.Config, out io.Writer) (*oauth2.Token, error)

var authorizeUser string

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Sign a user in to Google Drive",
	Long: `Open the Google consent page in a browser and store the resulting
access and refresh tokens for the user.

Example:
  mediadrop authorize --user u1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		if !c.Google.Enabled() {
			return fmt.Errorf("google is not configured. Run 'mediadrop setup' first")
		}
		oauthCfg, err := drive.LoadOAuthConfig(c.Google.CredentialsFile)
		if err != nil {
			return err
		}
		store, err := credentials.Open(c.CredentialsFile)
		if err != nil {
			return err
		}
		return RunAuthorizeWithDependencies(cmd.Context(), drive.Authorize, oauthCfg, store, authorizeUser, DefaultOutput)
	},
}

func init() {
	rootCmd.AddCommand(authorizeCmd)
	authorizeCmd.Flags().StringVarP(&authorizeUser, "user", "u", "", "User ID to store the tokens for (required)")
	authorizeCmd.MarkFlagRequired("user")
}

// RunAuthorizeWithDependencies runs the authorize command with injected dependencies (for testing)
func RunAuthorizeWithDependencies(ctx context.Context, authorize Authorizer, oauthCfg *oauth2.Config, store *credentials.FileStore, userID string, out OutputWriter) error {
	token, err := authorize(ctx, oauthCfg, out)
	if err != nil {
		return err
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("google returned no refresh token; revoke the app's access and authorize again")
	}

	cred := storage.ProviderCredential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if err := store.PutCredential(userID, storage.ProviderDrive, cred); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s drive credential for %q\n", Success("Saved"), userID)
	return nil
}

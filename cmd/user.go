package cmd

import (
	"fmt"
	"time"

	"mediadrop/domain/storage"
	"mediadrop/infrastructure/credentials"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and their backend credentials",
	Long: `Manage the users and tokens in the credentials file.

Examples:
  mediadrop user add u1 --handle ana --membership price_pro_yearly
  mediadrop user token u1 --provider cold --account-id 0042 --access-token K0042secret
  mediadrop user token u1 --provider dropbox --access-token sl.abc --refresh-token rt.xyz
  mediadrop user remove u1`,
}

var (
	userHandle     string
	userTenant     string
	userMembership string

	tokenProvider string
	tokenCred     storage.ProviderCredential
	tokenTTL      time.Duration
)

var userAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Add or update a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredentials()
		if err != nil {
			return err
		}
		return RunUserAddWithDependencies(store, args[0], userHandle, userTenant, userMembership, DefaultOutput)
	},
}

var userTokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Store a user's credential for one backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredentials()
		if err != nil {
			return err
		}
		cred := tokenCred
		if tokenTTL > 0 {
			cred.ExpiresAt = time.Now().Add(tokenTTL)
		}
		return RunUserTokenWithDependencies(store, args[0], tokenProvider, cred, DefaultOutput)
	},
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <user-id>",
	Short: "Remove a user and all their credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCredentials()
		if err != nil {
			return err
		}
		if err := store.RemoveUser(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(DefaultOutput, "Removed user %q\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd, userTokenCmd, userRemoveCmd)

	userAddCmd.Flags().StringVar(&userHandle, "handle", "", "Public username used in share links (defaults to the user ID)")
	userAddCmd.Flags().StringVar(&userTenant, "tenant", "", "Tenant ID when the user acts for a tenant")
	userAddCmd.Flags().StringVar(&userMembership, "membership", "", "Membership ID used to pick a quota tier")

	userTokenCmd.Flags().StringVarP(&tokenProvider, "provider", "p", "", "Backend: cold, dropbox or drive (required)")
	userTokenCmd.Flags().StringVar(&tokenCred.AccessToken, "access-token", "", "Access token, or the application key secret for cold storage (required)")
	userTokenCmd.Flags().StringVar(&tokenCred.RefreshToken, "refresh-token", "", "OAuth refresh token")
	userTokenCmd.Flags().StringVar(&tokenCred.AccountID, "account-id", "", "Application key ID for cold storage")
	userTokenCmd.Flags().DurationVar(&tokenTTL, "expires-in", 0, "Access token lifetime")
	userTokenCmd.MarkFlagRequired("provider")
	userTokenCmd.MarkFlagRequired("access-token")
}

func openCredentials() (*credentials.FileStore, error) {
	c, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	return credentials.Open(c.CredentialsFile)
}

// RunUserAddWithDependencies runs the user add command with injected dependencies
func RunUserAddWithDependencies(store *credentials.FileStore, userID, handle, tenantID, membership string, out OutputWriter) error {
	if err := store.PutUser(userID, handle, tenantID, membership); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved user %q\n", userID)
	return nil
}

// RunUserTokenWithDependencies runs the user token command with injected dependencies
func RunUserTokenWithDependencies(store *credentials.FileStore, userID, provider string, cred storage.ProviderCredential, out OutputWriter) error {
	kind, err := storage.ParseProviderKind(provider)
	if err != nil {
		return err
	}
	if kind == storage.ProviderCold && cred.AccountID == "" {
		return fmt.Errorf("--account-id is required for cold storage")
	}
	if err := store.PutCredential(userID, kind, cred); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %s credential for %q\n", kind, userID)
	return nil
}

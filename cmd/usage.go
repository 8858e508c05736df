package cmd

import (
	"context"
	"fmt"

	appstorage "mediadrop/application/storage"

	"github.com/spf13/cobra"
)

var usageMembership string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show storage used against the user's allocation",
	Long: `Show how much storage a user occupies on one backend and how much of
their membership allocation remains. Tenants are unlimited.

Example:
  mediadrop usage --user u1 --provider cold
  mediadrop usage --user u1 --provider cold --membership price_pro_yearly`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunUsageWithDependencies(ctx, app.Service, app.Creds, projectReq, usageMembership, DefaultOutput)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange a user's stored credential for a fresh access token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunRefreshWithDependencies(ctx, app.Service, app.Creds, projectReq, DefaultOutput)
		})
	},
}

func init() {
	rootCmd.AddCommand(usageCmd, refreshCmd)
	addProjectFlags(usageCmd, false)
	usageCmd.Flags().StringVar(&usageMembership, "membership", "", "Membership ID to use instead of the stored one")
	addProjectFlags(refreshCmd, false)
}

// RunUsageWithDependencies runs the usage command with injected dependencies (for testing)
func RunUsageWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, membership string, out OutputWriter) error {
	sess, project, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	usage, err := svc.Usage(ctx, sess, project.Provider, membership)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s on %s: %s\n", sess.OwnerHandle, project.Provider, formatUsage(usage))
	return nil
}

// RunRefreshWithDependencies runs the refresh command with injected dependencies (for testing)
func RunRefreshWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, out OutputWriter) error {
	sess, _, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	next, err := svc.Refresh(ctx, sess)
	if err != nil {
		return err
	}
	if next.Credential.ExpiresAt.IsZero() {
		fmt.Fprintf(out, "%s %s token for %s\n", Success("Refreshed"), next.Provider, next.UserID)
		return nil
	}
	fmt.Fprintf(out, "%s %s token for %s (expires %s)\n", Success("Refreshed"), next.Provider, next.UserID,
		next.Credential.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"strings"

	appstorage "mediadrop/application/storage"
	"mediadrop/domain/storage"

	"github.com/spf13/cobra"
)

// StoreOpener opens the cold-storage bucket with a session's key
type StoreOpener func(ctx context.Context, sess storage.Session) (storage.ObjectStore, error)

var copyTarget string

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Publish a cold-storage folder to another backend",
	Long: `Copy every file of a cold-storage project folder into a new folder on
another backend. Files stream straight from the bucket; nothing is
downloaded to disk first.

Example:
  mediadrop copy --user u1 --folder "user/u1/Beach Day" --to dropbox --name "Beach Day"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			if app.ColdStores == nil {
				return fmt.Errorf("cold_storage is not configured")
			}
			return RunCopyWithDependencies(ctx, app.Service, app.Creds, StoreOpener(app.ColdStores), projectReq, copyTarget, DefaultOutput)
		})
	},
}

func init() {
	rootCmd.AddCommand(copyCmd)
	copyCmd.Flags().StringVarP(&projectReq.UserID, "user", "u", "", "User ID from the credentials file (required)")
	copyCmd.Flags().StringVarP(&projectReq.Folder, "folder", "f", "", "Cold-storage folder path (required)")
	copyCmd.Flags().StringVar(&copyTarget, "to", "", "Target backend: dropbox or drive (required)")
	copyCmd.Flags().StringVarP(&projectReq.Name, "name", "n", "", "Project name on the target (defaults to the folder name)")
	copyCmd.MarkFlagRequired("user")
	copyCmd.MarkFlagRequired("folder")
	copyCmd.MarkFlagRequired("to")
}

// RunCopyWithDependencies runs the copy command with injected dependencies (for testing)
func RunCopyWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, open StoreOpener, req ProjectRequest, target string, out OutputWriter) error {
	source := req
	source.Provider = string(storage.ProviderCold)
	sess, project, err := source.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	ns, err := storage.NamespaceFor(sess)
	if err != nil {
		return err
	}
	prefix := ns.FolderPrefix(project.FolderPath)
	if prefix == ns.Prefix() {
		return fmt.Errorf("%w: empty folder path", storage.ErrMissingFolder)
	}

	store, err := open(ctx, sess)
	if err != nil {
		return err
	}
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	var files []storage.FileUpload
	for _, obj := range objects {
		// skip folder markers and anything in subfolders
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.Contains(rel, "/") {
			continue
		}
		files = append(files, storage.NewStoredUpload(ctx, store, obj))
	}
	if len(files) == 0 {
		return fmt.Errorf("no files under %s", prefix)
	}

	dest := req
	dest.Provider = target
	if dest.Name == "" {
		dest.Name = strings.TrimSuffix(ns.Relative(prefix), "/")
	}
	return uploadFiles(ctx, svc, sessions, dest, files, out)
}

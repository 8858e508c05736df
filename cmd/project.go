package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	appstorage "mediadrop/application/storage"
	"mediadrop/domain/storage"

	"github.com/spf13/cobra"
)

// SessionSource resolves a user into a session on one backend
type SessionSource interface {
	Session(ctx context.Context, userID string, kind storage.ProviderKind) (storage.Session, error)
}

// ProjectRequest names one project folder on one backend
type ProjectRequest struct {
	UserID   string
	Provider string
	Folder   string
	Name     string
}

func (r ProjectRequest) resolve(ctx context.Context, sessions SessionSource) (storage.Session, appstorage.Project, error) {
	kind, err := storage.ParseProviderKind(r.Provider)
	if err != nil {
		return storage.Session{}, appstorage.Project{}, err
	}
	if r.UserID == "" {
		return storage.Session{}, appstorage.Project{}, fmt.Errorf("--user is required")
	}
	sess, err := sessions.Session(ctx, r.UserID, kind)
	if err != nil {
		return storage.Session{}, appstorage.Project{}, err
	}
	name := r.Name
	if name == "" {
		name = r.Folder
	}
	return sess, appstorage.Project{Name: name, Provider: kind, FolderPath: r.Folder}, nil
}

var projectReq ProjectRequest

func addProjectFlags(c *cobra.Command, withFolder bool) {
	c.Flags().StringVarP(&projectReq.UserID, "user", "u", "", "User ID from the credentials file (required)")
	c.Flags().StringVarP(&projectReq.Provider, "provider", "p", "", "Backend: cold, dropbox or drive (required)")
	c.MarkFlagRequired("user")
	c.MarkFlagRequired("provider")
	if withFolder {
		c.Flags().StringVarP(&projectReq.Folder, "folder", "f", "", "Folder path returned by upload (required)")
		c.MarkFlagRequired("folder")
	}
}

// withApp loads config, wires the backends and runs fn
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	c, err := requireConfig()
	if err != nil {
		return err
	}
	logger := newLogger(c)
	app, err := BuildApp(cmd.Context(), c, registry, DefaultOutput, logger)
	if err != nil {
		return err
	}
	return fn(cmd.Context(), app)
}

// --- UPLOAD command ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload files into a new project folder",
	Long: `Create a uniquely named folder for a project and upload files into it.

If a folder with the same name already exists, the new folder is named
"<name>-1", "<name>-2", and so on. Videos uploaded to cold storage also
get an MP4 preview rendition when a transcoded bucket is configured.

Example:
  mediadrop upload --user u1 --provider cold --name "Beach Day" a.jpg b.mov`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunUploadWithDependencies(ctx, app.Service, app.Creds, projectReq, args, DefaultOutput)
		})
	},
}

// --- ADD command ---

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Upload files into an existing project folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunAddWithDependencies(ctx, app.Service, app.Creds, projectReq, args, DefaultOutput)
		})
	},
}

// --- LIST command ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the media files of a project folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunListWithDependencies(ctx, app.Service, app.Creds, projectReq, DefaultOutput)
		})
	},
}

// --- RENAME command ---

var renameCmd = &cobra.Command{
	Use:   "rename",
	Short: "Rename a project folder",
	Long: `Move a project folder next to itself under a new name. Previews and
thumbnails move with it.

Example:
  mediadrop rename --user u1 --provider dropbox --folder "/mediadrop/Beach Day" --name "Beach Day 2025"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunRenameWithDependencies(ctx, app.Service, app.Creds, projectReq, DefaultOutput)
		})
	},
}

// --- DELETE command ---

var deleteFileName string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a project folder, or one file with --file",
	Long: `Delete a project folder and everything in it, or a single file when
--file is given. Deleting something that is already gone succeeds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			return RunDeleteWithDependencies(ctx, app.Service, app.Creds, projectReq, deleteFileName, DefaultOutput)
		})
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd, addCmd, listCmd, renameCmd, deleteCmd)

	addProjectFlags(uploadCmd, false)
	uploadCmd.Flags().StringVarP(&projectReq.Name, "name", "n", "", "Project name used for the folder (required)")
	uploadCmd.MarkFlagRequired("name")

	addProjectFlags(addCmd, true)
	addProjectFlags(listCmd, true)

	addProjectFlags(renameCmd, true)
	renameCmd.Flags().StringVarP(&projectReq.Name, "name", "n", "", "New project name (required)")
	renameCmd.MarkFlagRequired("name")

	addProjectFlags(deleteCmd, true)
	deleteCmd.Flags().StringVar(&deleteFileName, "file", "", "Delete only this file")
}

func localUploads(paths []string) ([]storage.FileUpload, error) {
	files := make([]storage.FileUpload, 0, len(paths))
	for _, p := range paths {
		f, err := storage.NewLocalFileUpload(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func printUploadResult(out OutputWriter, result *storage.UploadResult) {
	fmt.Fprintf(out, "%s %d file(s)\n", Success("Uploaded"), len(result.Uploaded))
	fmt.Fprintf(out, "  Folder: %s\n", result.FolderPath)
	if result.ShareLink != "" {
		fmt.Fprintf(out, "  Share link: %s\n", Link(result.ShareLink))
	}
}

// printPartial reports where a partially failed batch left its files
func printPartial(out OutputWriter, err error) {
	var batchErr *storage.BatchError
	if !errors.As(err, &batchErr) {
		return
	}
	fmt.Fprintf(out, "%s %d file(s) before the failure\n", Warning("Stored"), len(batchErr.Succeeded))
	fmt.Fprintf(out, "  Folder: %s\n", batchErr.Location.Path)
	for _, name := range batchErr.Succeeded {
		fmt.Fprintf(out, "  %s\n", Muted(name))
	}
}

// RunUploadWithDependencies runs the upload command with injected dependencies (for testing)
func RunUploadWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, paths []string, out OutputWriter) error {
	files, err := localUploads(paths)
	if err != nil {
		return err
	}
	return uploadFiles(ctx, svc, sessions, req, files, out)
}

func uploadFiles(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, files []storage.FileUpload, out OutputWriter) error {
	sess, project, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	_, result, err := svc.CreateProject(ctx, sess, project.Provider, req.Name, files)
	if err != nil {
		printPartial(out, err)
		return err
	}

	printUploadResult(out, result)
	fmt.Fprintf(out, "  Location: %s %s %s\n", result.Location.Provider, result.Location.RootRef, Muted(result.Location.Path))
	return nil
}

// RunAddWithDependencies runs the add command with injected dependencies (for testing)
func RunAddWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, paths []string, out OutputWriter) error {
	files, err := localUploads(paths)
	if err != nil {
		return err
	}
	sess, project, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	result, err := svc.AddFiles(ctx, sess, project, files)
	if err != nil {
		printPartial(out, err)
		return err
	}
	printUploadResult(out, result)
	return nil
}

// RunListWithDependencies runs the list command with injected dependencies (for testing)
func RunListWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, out OutputWriter) error {
	sess, project, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	files, err := svc.ListProject(ctx, sess, project)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No files in folder.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tPREVIEW\tTHUMBNAIL")
	for _, f := range files {
		thumb := f.ThumbnailURL
		if thumb == "" {
			thumb = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Name, f.Type, formatBytes(f.Size), f.PreviewURL, thumb)
	}
	return w.Flush()
}

// RunRenameWithDependencies runs the rename command with injected dependencies (for testing)
func RunRenameWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, out OutputWriter) error {
	newName := req.Name
	req.Name = ""
	sess, project, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	renamed, err := svc.RenameProject(ctx, sess, project, newName)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", Success("Renamed to"), renamed.FolderPath)
	return nil
}

// RunDeleteWithDependencies runs the delete command with injected dependencies (for testing)
func RunDeleteWithDependencies(ctx context.Context, svc *appstorage.Service, sessions SessionSource, req ProjectRequest, fileName string, out OutputWriter) error {
	sess, project, err := req.resolve(ctx, sessions)
	if err != nil {
		return err
	}

	if fileName != "" {
		if err := svc.DeleteFile(ctx, sess, project, fileName); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %s from %s\n", Success("Deleted"), fileName, project.FolderPath)
		return nil
	}

	return svc.DeleteProject(ctx, sess, project)
}

package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"mediadrop/domain/storage"
)

// Project is the part of a project record this service needs: the backend
// tag and the folder the media lives in
type Project struct {
	Name       string
	Provider   storage.ProviderKind
	FolderPath string
	ShareLink  string
}

// Service selects a Provider by the project's backend tag and runs the
// project media workflows against it
type Service struct {
	providers map[storage.ProviderKind]storage.Provider
	output    io.Writer
	logger    *slog.Logger
}

// NewService creates a service over the given providers
func NewService(providers []storage.Provider, output io.Writer, logger *slog.Logger) *Service {
	if output == nil {
		output = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	byKind := make(map[storage.ProviderKind]storage.Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}
	return &Service{providers: byKind, output: output, logger: logger}
}

// Provider returns the provider registered for kind
func (s *Service) Provider(kind storage.ProviderKind) (storage.Provider, error) {
	p, ok := s.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnsupportedProvider, kind)
	}
	return p, nil
}

// CreateProject uploads files into a new uniquely named folder
func (s *Service) CreateProject(ctx context.Context, sess storage.Session, kind storage.ProviderKind, name string, files []storage.FileUpload) (*Project, *storage.UploadResult, error) {
	p, err := s.Provider(kind)
	if err != nil {
		return nil, nil, err
	}

	folder := storage.SanitizeFolderName(name)
	if folder == "" {
		return nil, nil, fmt.Errorf("%w: project name %q has no usable characters", storage.ErrMissingFolder, name)
	}

	fmt.Fprintf(s.output, "Uploading %d file(s) to %s...\n", len(files), kind)
	result, err := p.Upload(ctx, sess, folder, files)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create project %q: %w", name, err)
	}
	fmt.Fprintf(s.output, "Created folder %s\n", result.FolderPath)

	return &Project{
		Name:       name,
		Provider:   kind,
		FolderPath: result.FolderPath,
		ShareLink:  result.ShareLink,
	}, result, nil
}

// AddFiles uploads files into the project's existing folder
func (s *Service) AddFiles(ctx context.Context, sess storage.Session, project Project, files []storage.FileUpload) (*storage.UploadResult, error) {
	p, err := s.providerFor(project)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(s.output, "Adding %d file(s) to %s...\n", len(files), project.FolderPath)
	result, err := p.AddFiles(ctx, sess, project.FolderPath, files)
	if err != nil {
		return nil, fmt.Errorf("failed to add files to %s: %w", project.FolderPath, err)
	}
	return result, nil
}

// ListProject returns the project's media files
func (s *Service) ListProject(ctx context.Context, sess storage.Session, project Project) ([]storage.MediaFile, error) {
	p, err := s.providerFor(project)
	if err != nil {
		return nil, err
	}

	files, err := p.ListFiles(ctx, sess, project.FolderPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", project.FolderPath, err)
	}
	return files, nil
}

// RenameProject moves the project's folder next to itself under newName
// and returns the updated project
func (s *Service) RenameProject(ctx context.Context, sess storage.Session, project Project, newName string) (*Project, error) {
	p, err := s.providerFor(project)
	if err != nil {
		return nil, err
	}

	folder := storage.SanitizeFolderName(newName)
	if folder == "" {
		return nil, fmt.Errorf("%w: project name %q has no usable characters", storage.ErrMissingFolder, newName)
	}

	target := storage.SiblingPath(project.FolderPath, folder)
	fmt.Fprintf(s.output, "Moving %s to %s...\n", project.FolderPath, target)
	newPath, err := p.MoveFolder(ctx, sess, project.FolderPath, target)
	if err != nil {
		return nil, fmt.Errorf("failed to rename project %q: %w", project.Name, err)
	}

	renamed := project
	renamed.Name = newName
	renamed.FolderPath = newPath
	return &renamed, nil
}

// DeleteProject removes the project's folder and everything in it
func (s *Service) DeleteProject(ctx context.Context, sess storage.Session, project Project) error {
	p, err := s.providerFor(project)
	if err != nil {
		return err
	}

	if err := p.DeleteFolder(ctx, sess, project.FolderPath); err != nil {
		return fmt.Errorf("failed to delete project %q: %w", project.Name, err)
	}
	fmt.Fprintf(s.output, "Deleted %s\n", project.FolderPath)
	return nil
}

// DeleteFile removes one file from the project's folder
func (s *Service) DeleteFile(ctx context.Context, sess storage.Session, project Project, fileName string) error {
	p, err := s.providerFor(project)
	if err != nil {
		return err
	}

	if err := p.DeleteFile(ctx, sess, project.FolderPath, fileName); err != nil {
		return fmt.Errorf("failed to delete %s: %w", fileName, err)
	}
	return nil
}

// Usage reports storage usage on one backend
func (s *Service) Usage(ctx context.Context, sess storage.Session, kind storage.ProviderKind, membershipHint string) (*storage.Usage, error) {
	p, err := s.Provider(kind)
	if err != nil {
		return nil, err
	}

	usage, err := p.StorageUsage(ctx, sess, membershipHint)
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage: %w", err)
	}
	return usage, nil
}

// Refresh exchanges the session's credential for a fresh access token
func (s *Service) Refresh(ctx context.Context, sess storage.Session) (storage.Session, error) {
	p, err := s.Provider(sess.Provider)
	if err != nil {
		return storage.Session{}, err
	}

	next, err := p.RefreshToken(ctx, sess)
	if err != nil {
		return storage.Session{}, fmt.Errorf("failed to refresh %s token: %w", sess.Provider, err)
	}
	s.logger.Info("refreshed token", "provider", sess.Provider, "user", sess.UserID)
	return next, nil
}

func (s *Service) providerFor(project Project) (storage.Provider, error) {
	if project.FolderPath == "" {
		return nil, fmt.Errorf("%w: project %q has no folder", storage.ErrMissingFolder, project.Name)
	}
	return s.Provider(project.Provider)
}

package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"mediadrop/domain/storage"
)

// Transcoder implements storage.Transcoder using ffmpeg
type Transcoder struct {
	ffmpegPath string
	tempDir    string
	preset     Preset
	runner     CommandRunner
}

// Option is a functional option for configuring Transcoder and FrameGrabber
type Option func(*settings)

type settings struct {
	ffmpegPath string
	tempDir    string
	preset     Preset
	runner     CommandRunner
}

// WithFFmpegPath sets a custom ffmpeg executable path
func WithFFmpegPath(path string) Option {
	return func(s *settings) {
		if path != "" {
			s.ffmpegPath = path
		}
	}
}

// WithTempDir sets where intermediate files are written
func WithTempDir(dir string) Option {
	return func(s *settings) {
		if dir != "" {
			s.tempDir = dir
		}
	}
}

// WithPreset sets the rendition encoder settings
func WithPreset(p Preset) Option {
	return func(s *settings) {
		s.preset = p
	}
}

// WithCommandRunner sets a custom command runner (for testing)
func WithCommandRunner(runner CommandRunner) Option {
	return func(s *settings) {
		s.runner = runner
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		ffmpegPath: "ffmpeg",
		tempDir:    os.TempDir(),
		preset:     DefaultPreset(),
		runner:     &ExecCommandRunner{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// NewTranscoder creates a new FFmpeg-based transcoder
func NewTranscoder(opts ...Option) *Transcoder {
	s := newSettings(opts)
	return &Transcoder{
		ffmpegPath: s.ffmpegPath,
		tempDir:    s.tempDir,
		preset:     s.preset,
		runner:     s.runner,
	}
}

// Transcode implements storage.Transcoder. The caller removes the returned
// rendition when done with it.
func (t *Transcoder) Transcode(ctx context.Context, src io.Reader) (*storage.Rendition, error) {
	input, err := spool(t.tempDir, src)
	if err != nil {
		return nil, err
	}
	defer os.Remove(input)

	output := filepath.Join(t.tempDir, "rendition-"+uuid.NewString()+".mp4")
	args := append([]string{"-i", input}, t.preset.Args()...)
	args = append(args, "-y", output)

	if err := t.runner.Run(ctx, t.ffmpegPath, args...); err != nil {
		os.Remove(output)
		return nil, fmt.Errorf("ffmpeg transcode failed: %w", err)
	}

	info, err := os.Stat(output)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	return &storage.Rendition{Path: output, Size: info.Size()}, nil
}

// VerifyInstalled checks that ffmpeg is available
func (t *Transcoder) VerifyInstalled(ctx context.Context) error {
	return VerifyInstalled(ctx, t.runner, t.ffmpegPath)
}

// spool copies src into a uniquely named file under dir
func spool(dir string, src io.Reader) (string, error) {
	path := filepath.Join(dir, "source-"+uuid.NewString())
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return path, nil
}

// Ensure Transcoder implements storage.Transcoder
var _ storage.Transcoder = (*Transcoder)(nil)

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

// FrameGrabber implements storage.FrameGrabber using ffmpeg's thumbnail filter
type FrameGrabber struct {
	ffmpegPath string
	tempDir    string
	runner     CommandRunner
}

// NewFrameGrabber creates a new FFmpeg-based poster frame extractor
func NewFrameGrabber(opts ...Option) *FrameGrabber {
	s := newSettings(opts)
	return &FrameGrabber{
		ffmpegPath: s.ffmpegPath,
		tempDir:    s.tempDir,
		runner:     s.runner,
	}
}

// PosterFrame implements storage.FrameGrabber
func (g *FrameGrabber) PosterFrame(ctx context.Context, src io.Reader) ([]byte, error) {
	input, err := spool(g.tempDir, src)
	if err != nil {
		return nil, err
	}
	defer os.Remove(input)

	output := filepath.Join(g.tempDir, "frame-"+uuid.NewString()+".jpg")
	defer os.Remove(output)

	args := []string{
		"-i", input,
		"-vf", "thumbnail",
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		output,
	}
	if err := g.runner.Run(ctx, g.ffmpegPath, args...); err != nil {
		return nil, fmt.Errorf("ffmpeg frame grab failed: %w", err)
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg produced no frame: %w", err)
	}
	return data, nil
}

// Ensure FrameGrabber implements storage.FrameGrabber
var _ storage.FrameGrabber = (*FrameGrabber)(nil)

package ffmpeg

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

// mockRunner records calls and writes payload to the output path (last arg)
type mockRunner struct {
	calls   [][]string
	payload []byte
	runErr  error
	outErr  error
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) error {
	m.calls = append(m.calls, append([]string{name}, args...))
	if m.runErr != nil {
		return m.runErr
	}
	return os.WriteFile(args[len(args)-1], m.payload, 0644)
}

func (m *mockRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	return []byte("ffmpeg version 6.1"), m.outErr
}

func TestTranscoder_Transcode(t *testing.T) {
	dir := t.TempDir()
	runner := &mockRunner{payload: []byte("mp4 data")}
	tr := NewTranscoder(WithCommandRunner(runner), WithTempDir(dir), WithFFmpegPath("/opt/ffmpeg"))

	rendition, err := tr.Transcode(context.Background(), strings.NewReader("mov data"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rendition.Remove()

	if rendition.Size != int64(len("mp4 data")) {
		t.Errorf("expected size %d, got %d", len("mp4 data"), rendition.Size)
	}
	if !strings.HasSuffix(rendition.Path, ".mp4") {
		t.Errorf("expected .mp4 rendition, got %s", rendition.Path)
	}

	call := runner.calls[0]
	if call[0] != "/opt/ffmpeg" {
		t.Errorf("expected custom ffmpeg path, got %s", call[0])
	}
	joined := strings.Join(call, " ")
	for _, want := range []string{"-c:v libx264", "-c:a aac", "-movflags +faststart", "-pix_fmt yuv420p"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in args: %s", want, joined)
		}
	}

	// only the rendition remains in the temp dir
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected spooled source to be removed, found %d files", len(entries))
	}
}

func TestTranscoder_Failure(t *testing.T) {
	dir := t.TempDir()
	runner := &mockRunner{runErr: errors.New("exit status 1")}
	tr := NewTranscoder(WithCommandRunner(runner), WithTempDir(dir))

	if _, err := tr.Transcode(context.Background(), strings.NewReader("x")); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected temp dir to be cleaned up, found %d files", len(entries))
	}
}

func TestFrameGrabber_PosterFrame(t *testing.T) {
	dir := t.TempDir()
	runner := &mockRunner{payload: []byte("jpeg")}
	g := NewFrameGrabber(WithCommandRunner(runner), WithTempDir(dir))

	frame, err := g.PosterFrame(context.Background(), strings.NewReader("video"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(frame) != "jpeg" {
		t.Errorf("expected frame bytes, got %q", frame)
	}
	if !strings.Contains(strings.Join(runner.calls[0], " "), "-frames:v 1") {
		t.Errorf("expected single frame extraction, got %v", runner.calls[0])
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected temp files removed, found %d", len(entries))
	}
}

func TestPreset_Args(t *testing.T) {
	tests := []struct {
		name    string
		preset  Preset
		want    []string
		notWant []string
	}{
		{
			name:   "default",
			preset: DefaultPreset(),
			want:   []string{"-preset veryfast", "-crf 23", "-b:a 128k", "min(ih,1080)"},
		},
		{
			name:    "empty preset falls back to codecs only",
			preset:  Preset{},
			want:    []string{"-c:v libx264", "-c:a aac"},
			notWant: []string{"-crf", "-vf"},
		},
		{
			name:   "extra args appended",
			preset: Preset{ExtraArgs: []string{"-an"}},
			want:   []string{"+faststart -an"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(tt.preset.Args(), " ")
			for _, w := range tt.want {
				if !strings.Contains(joined, w) {
					t.Errorf("expected %q in %q", w, joined)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(joined, nw) {
					t.Errorf("did not expect %q in %q", nw, joined)
				}
			}
		})
	}
}

func TestVerifyInstalled(t *testing.T) {
	runner := &mockRunner{outErr: errors.New("not found")}
	if err := NewTranscoder(WithCommandRunner(runner)).VerifyInstalled(context.Background()); err == nil {
		t.Error("expected error when ffmpeg is missing")
	}
}

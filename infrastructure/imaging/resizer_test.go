package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape bounded by width", 4000, 2000, 1024, 512},
		{"portrait bounded by height", 1500, 3000, 384, 768},
		{"4:3 exact fit", 2048, 1536, 1024, 768},
		{"already small", 640, 480, 640, 480},
		{"degenerate", 0, 10, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitWithin(tt.w, tt.h, 1024, 768)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitWithin(%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestResizer_Resize(t *testing.T) {
	out, err := NewResizer().Resize(encodePNG(t, 200, 100), 50, 50, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("expected JPEG output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Errorf("expected 50x25, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestResizer_NoUpscale(t *testing.T) {
	out, err := NewResizer().Resize(encodePNG(t, 20, 10), 1024, 768, 80)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, _ := jpeg.Decode(bytes.NewReader(out))
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Errorf("expected original size, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestResizer_InvalidInput(t *testing.T) {
	if _, err := NewResizer().Resize([]byte("not an image"), 10, 10, 80); err == nil {
		t.Error("expected decode error")
	}
}

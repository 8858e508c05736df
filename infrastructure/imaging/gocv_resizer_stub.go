//go:build !gocv

package imaging

import (
	"fmt"

	"mediadrop/domain/storage"
)

// GoCVResizer is a stub when GoCV/OpenCV is not available
type GoCVResizer struct{}

// NewGoCVResizer creates a stub resizer (requires building with -tags=gocv)
func NewGoCVResizer() *GoCVResizer {
	return &GoCVResizer{}
}

// Available reports whether the OpenCV resizer was compiled in
func (r *GoCVResizer) Available() bool {
	return false
}

// Resize returns an error indicating OpenCV is not available
func (r *GoCVResizer) Resize(data []byte, maxWidth, maxHeight, quality int) ([]byte, error) {
	return nil, fmt.Errorf("opencv resizer not available: build with '-tags=gocv' and install OpenCV/GoCV")
}

// Ensure GoCVResizer implements storage.ImageResizer
var _ storage.ImageResizer = (*GoCVResizer)(nil)

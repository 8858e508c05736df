//go:build gocv

package imaging

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"mediadrop/domain/storage"
)

// GoCVResizer implements storage.ImageResizer with OpenCV
type GoCVResizer struct{}

// NewGoCVResizer creates an OpenCV-backed resizer
func NewGoCVResizer() *GoCVResizer {
	return &GoCVResizer{}
}

// Available reports whether the OpenCV resizer was compiled in
func (r *GoCVResizer) Available() bool {
	return true
}

// Resize implements storage.ImageResizer
func (r *GoCVResizer) Resize(data []byte, maxWidth, maxHeight, quality int) ([]byte, error) {
	src, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, fmt.Errorf("failed to decode image: empty matrix")
	}

	w, h := FitWithin(src.Cols(), src.Rows(), maxWidth, maxHeight)

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(w, h), 0, 0, gocv.InterpolationArea)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, dst, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf, nil
}

// Ensure GoCVResizer implements storage.ImageResizer
var _ storage.ImageResizer = (*GoCVResizer)(nil)

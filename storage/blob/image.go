package blob

import (
	"bytes"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

var imageFormats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
}

// ImageResizer downscales uploaded photos & scans with imaging.
type ImageResizer struct {
	JPEGQuality int
}

var _ core.ImageResizer = (*ImageResizer)(nil) // interface compliance check

func NewImageResizer() *ImageResizer {
	return &ImageResizer{JPEGQuality: 85}
}

func (ir *ImageResizer) Fit(r io.Reader, contentType string, maxDim int) (io.Reader, int64, bool, error) {
	format, ok := imageFormats[contentType]
	if !ok || maxDim <= 0 {
		return nil, 0, false, nil
	}

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "decoding image")
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return nil, 0, false, nil
	}

	// 0 keeps the aspect ratio
	if w >= h {
		img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
	}

	buf := new(bytes.Buffer)
	if err = imaging.Encode(buf, img, format, imaging.JPEGQuality(ir.JPEGQuality)); err != nil {
		return nil, 0, false, errors.Wrap(err, "encoding image")
	}
	return buf, int64(buf.Len()), true, nil
}

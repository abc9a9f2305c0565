// Package imaging normalizes item photos: every upload is sniffed, bounded,
// re-encoded as JPEG, and paired with a thumbnail.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"

	"github.com/erazemk/orozarna/internal/apperr"
)

const (
	// MaxDimension bounds the stored photo.
	MaxDimension = 1024
	// ThumbDimension bounds the thumbnail.
	ThumbDimension = 192
	// MaxUploadBytes is the largest accepted upload.
	MaxUploadBytes = 8 << 20

	jpegQuality  = 85
	thumbQuality = 75
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Photo is a normalized photo with its thumbnail, both JPEG.
type Photo struct {
	Data  []byte
	Thumb []byte
	MIME  string
}

// Normalize reads an upload and produces a Photo. Bad input is a Validation
// error.
func Normalize(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, apperr.Internalf(err, "reading photo")
	}
	if len(data) > MaxUploadBytes {
		return nil, apperr.Validationf("photo larger than %d bytes", MaxUploadBytes)
	}

	// Client headers are not trusted.
	detected := http.DetectContentType(data)
	if !allowedMIME[detected] {
		return nil, apperr.Validationf("unsupported photo format %s", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "photo cannot be decoded", err)
	}

	full, err := encode(fit(img, MaxDimension), jpegQuality)
	if err != nil {
		return nil, err
	}
	thumb, err := encode(fit(img, ThumbDimension), thumbQuality)
	if err != nil {
		return nil, err
	}

	return &Photo{Data: full, Thumb: thumb, MIME: "image/jpeg"}, nil
}

func encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperr.Internalf(err, "encoding photo")
	}
	return buf.Bytes(), nil
}

// fit scales img down so neither side exceeds maxDim, keeping the aspect
// ratio. Smaller images are returned as is.
func fit(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	newW, newH := maxDim, maxDim
	if w > h {
		newH = max(1, h*maxDim/w)
	} else {
		newW = max(1, w*maxDim/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}

// Describe is a short human description of a photo for audit snapshots.
func (p *Photo) Describe() string {
	return fmt.Sprintf("%s, %d bytes, thumb %d bytes", p.MIME, len(p.Data), len(p.Thumb))
}

// Package codec converts between compressed image bytes and raw RGB pixel buffers.
//
// All functions are stateless. Decoding normalizes every input to 8-bit RGB and may
// downscale once, preserving the aspect ratio; encoding never resizes.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	"github.com/aretw0/diffuse/pkg/domain"

	_ "image/gif" // Register GIF decoder

	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Format names accepted by Encode.
const (
	FormatJPEG = "jpeg"
	FormatJPG  = "jpg"
	FormatPNG  = "png"
)

// MIME types used by EncodeDataURL.
const (
	MIMETypeJPEG    = "image/jpeg"
	MIMETypePNG     = "image/png"
	MIMETypeUnknown = "application/octet-stream"
)

// Quality bounds for lossy encoding.
const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 85
)

// PixelBuffer is an H×W×3 array of 8-bit RGB intensities stored row-major.
// It is treated as immutable once decoded.
type PixelBuffer struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewPixelBuffer allocates a zeroed buffer of the given size.
func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{Width: width, Height: height, Pix: make([]uint8, width*height*3)}
}

// Len returns the number of channel samples (H·W·3).
func (b *PixelBuffer) Len() int { return len(b.Pix) }

// Offset returns the index of the red sample of pixel (x, y).
func (b *PixelBuffer) Offset(x, y int) int { return (y*b.Width + x) * 3 }

// SameShape reports whether o has the same dimensions as b.
func (b *PixelBuffer) SameShape(o *PixelBuffer) bool {
	return o != nil && b.Width == o.Width && b.Height == o.Height
}

// Clone returns a deep copy.
func (b *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &PixelBuffer{Width: b.Width, Height: b.Height, Pix: pix}
}

// ToRGBA converts the buffer to an opaque *image.RGBA.
func (b *PixelBuffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for i, j := 0, 0; i < len(b.Pix); i, j = i+3, j+4 {
		img.Pix[j] = b.Pix[i]
		img.Pix[j+1] = b.Pix[i+1]
		img.Pix[j+2] = b.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// FromImage converts any image to RGB, dropping the alpha channel.
func FromImage(img image.Image) *PixelBuffer {
	bounds := img.Bounds()
	buf := NewPixelBuffer(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			buf.Pix[i] = c.R
			buf.Pix[i+1] = c.G
			buf.Pix[i+2] = c.B
			i += 3
		}
	}
	return buf
}

// Decode parses compressed image bytes (JPEG, PNG, GIF or WebP) into RGB.
// When maxSide > 0 and the longest side exceeds it, the image is downscaled once with a
// high-quality filter, preserving the aspect ratio.
func Decode(data []byte, maxSide int) (*PixelBuffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidImageData)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImageData, err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", domain.ErrInvalidImageData)
	}

	if w, h, ok := targetSize(bounds.Dx(), bounds.Dy(), maxSide); ok {
		img = resize(img, w, h)
	}
	return FromImage(img), nil
}

// DecodeBase64 accepts raw base64 or a data URL (data:image/png;base64,...) and decodes it.
func DecodeBase64(encoded string, maxSide int) (*PixelBuffer, error) {
	raw, err := base64.StdEncoding.Strict().DecodeString(stripDataURLPrefix(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", domain.ErrInvalidImageData, err)
	}
	return Decode(raw, maxSide)
}

func stripDataURLPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			return payload
		}
	}
	return s
}

// targetSize computes the downscaled size so the longest side equals maxSide.
func targetSize(width, height, maxSide int) (int, int, bool) {
	longest := max(width, height)
	if maxSide <= 0 || longest <= maxSide {
		return width, height, false
	}
	scale := float64(maxSide) / float64(longest)
	return max(int(float64(width)*scale), 1), max(int(float64(height)*scale), 1), true
}

// resize uses CatmullRom, the closest x/image kernel to Lanczos.
func resize(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// NormalizeFormat maps user-supplied names to a supported encoder, defaulting to JPEG.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJPEG, FormatJPG:
		return FormatJPEG, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", domain.NewConfigError("format", "unsupported output format %q", format)
	}
}

// Encode compresses buf. quality applies to JPEG only and is clamped to [1, 100].
func Encode(buf *PixelBuffer, format string, quality int) ([]byte, error) {
	if buf == nil || buf.Width <= 0 || buf.Height <= 0 || len(buf.Pix) != buf.Width*buf.Height*3 {
		return nil, fmt.Errorf("encode: malformed pixel buffer")
	}
	format, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	img := buf.ToRGBA()
	switch format {
	case FormatPNG:
		err = png.Encode(&out, img)
	default:
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: ClampQuality(quality)})
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return out.Bytes(), nil
}

// EncodeBase64 encodes buf and returns raw base64 without a data URL prefix.
func EncodeBase64(buf *PixelBuffer, format string, quality int) (string, error) {
	data, err := Encode(buf, format, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeDataURL encodes buf as a data URL suitable for an <img src>.
func EncodeDataURL(buf *PixelBuffer, format string, quality int) (string, error) {
	b64, err := EncodeBase64(buf, format, quality)
	if err != nil {
		return "", err
	}
	return "data:" + MIMEType(format) + ";base64," + b64, nil
}

// EncodeString picks EncodeDataURL or EncodeBase64.
func EncodeString(buf *PixelBuffer, format string, quality int, dataURL bool) (string, error) {
	if dataURL {
		return EncodeDataURL(buf, format, quality)
	}
	return EncodeBase64(buf, format, quality)
}

// MIMEType returns the MIME type of a format name.
func MIMEType(format string) string {
	switch strings.ToLower(format) {
	case "", FormatJPEG, FormatJPG:
		return MIMETypeJPEG
	case FormatPNG:
		return MIMETypePNG
	default:
		return MIMETypeUnknown
	}
}

// ClampQuality forces q into [MinQuality, MaxQuality]; zero selects DefaultQuality.
func ClampQuality(q int) int {
	if q == 0 {
		return DefaultQuality
	}
	return min(max(q, MinQuality), MaxQuality)
}

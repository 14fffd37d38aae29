// Package testutils holds fixtures shared by the package tests.
package testutils

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/pkg/codec"
)

// Gradient returns a deterministic w×h image whose channels vary independently,
// so resizing and noise are visible in every channel.
func Gradient(w, h int) *codec.PixelBuffer {
	buf := codec.NewPixelBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := buf.Offset(x, y)
			buf.Pix[o] = uint8((x * 17) ^ (y * 31))
			buf.Pix[o+1] = uint8(x*43 + y*13)
			buf.Pix[o+2] = uint8((x * 7) ^ (y * 11))
		}
	}
	return buf
}

// EncodedPNG returns Gradient(w, h) as raw base64 PNG, the payload format clients send.
// It fails the test immediately on error.
func EncodedPNG(t testing.TB, w, h int) string {
	t.Helper()
	s, err := codec.EncodeBase64(Gradient(w, h), codec.FormatPNG, 0)
	require.NoError(t, err, "Failed to encode fixture image")
	return s
}

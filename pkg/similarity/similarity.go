// Package similarity measures how far a noised frame has drifted from its source image.
package similarity

import (
	"fmt"
	"math"

	"github.com/aretw0/diffuse/pkg/codec"
	"github.com/aretw0/diffuse/pkg/domain"
)

// WindowSize is the side of the square SSIM window.
const WindowSize = 7

const (
	dataRange = 255.0
	k1        = 0.01
	k2        = 0.03
)

// Compare computes SSIM and cosine similarity between a and b.
// Any failure wraps domain.ErrMetricUnavailable.
func Compare(a, b *codec.PixelBuffer) (domain.Metrics, error) {
	ssim, err := SSIM(a, b)
	if err != nil {
		return domain.Metrics{}, err
	}
	cos, err := Cosine(a, b)
	if err != nil {
		return domain.Metrics{}, err
	}
	return domain.Metrics{SSIM: ssim, Cosine: cos}, nil
}

// Cosine returns the cosine similarity of the flattened pixel vectors.
func Cosine(a, b *codec.PixelBuffer) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	var dot, na, nb float64
	for i := range a.Pix {
		x, y := float64(a.Pix[i]), float64(b.Pix[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("%w: cosine of an all-black image", domain.ErrMetricUnavailable)
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// SSIM returns the mean structural similarity over every WindowSize×WindowSize window
// fully inside the image, averaged across the three channels. Images smaller than the
// window are rejected.
func SSIM(a, b *codec.PixelBuffer) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}
	if a.Width < WindowSize || a.Height < WindowSize {
		return 0, fmt.Errorf("%w: image %dx%d smaller than %dx%d window",
			domain.ErrMetricUnavailable, a.Width, a.Height, WindowSize, WindowSize)
	}

	var total float64
	for c := 0; c < 3; c++ {
		total += channelSSIM(a, b, c)
	}
	return total / 3, nil
}

func checkShapes(a, b *codec.PixelBuffer) error {
	if a == nil || b == nil {
		return fmt.Errorf("%w: nil image", domain.ErrMetricUnavailable)
	}
	if !a.SameShape(b) || len(a.Pix) != len(b.Pix) {
		return fmt.Errorf("%w: shape mismatch %dx%d vs %dx%d",
			domain.ErrMetricUnavailable, a.Width, a.Height, b.Width, b.Height)
	}
	if len(a.Pix) == 0 {
		return fmt.Errorf("%w: empty image", domain.ErrMetricUnavailable)
	}
	return nil
}

// integral is a summed-area table with a zero border row and column.
type integral struct {
	stride int
	sum    []float64
}

func newIntegral(w, h int, value func(x, y int) float64) integral {
	it := integral{stride: w + 1, sum: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			row += value(x, y)
			it.sum[(y+1)*it.stride+x+1] = it.sum[y*it.stride+x+1] + row
		}
	}
	return it
}

// window sums the n×n block whose top-left corner is (x, y).
func (it integral) window(x, y, n int) float64 {
	s := it.stride
	return it.sum[(y+n)*s+x+n] - it.sum[y*s+x+n] - it.sum[(y+n)*s+x] + it.sum[y*s+x]
}

func channelSSIM(a, b *codec.PixelBuffer, c int) float64 {
	w, h := a.Width, a.Height
	px := func(buf *codec.PixelBuffer) func(x, y int) float64 {
		return func(x, y int) float64 { return float64(buf.Pix[buf.Offset(x, y)+c]) }
	}
	pa, pb := px(a), px(b)

	sa := newIntegral(w, h, pa)
	sb := newIntegral(w, h, pb)
	saa := newIntegral(w, h, func(x, y int) float64 { v := pa(x, y); return v * v })
	sbb := newIntegral(w, h, func(x, y int) float64 { v := pb(x, y); return v * v })
	sab := newIntegral(w, h, func(x, y int) float64 { return pa(x, y) * pb(x, y) })

	const n = WindowSize
	np := float64(n * n)
	covNorm := np / (np - 1)
	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	var total float64
	var count int
	for y := 0; y+n <= h; y++ {
		for x := 0; x+n <= w; x++ {
			ux := sa.window(x, y, n) / np
			uy := sb.window(x, y, n) / np
			vx := covNorm * (saa.window(x, y, n)/np - ux*ux)
			vy := covNorm * (sbb.window(x, y, n)/np - uy*uy)
			vxy := covNorm * (sab.window(x, y, n)/np - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			total += num / den
			count++
		}
	}
	return total / float64(count)
}

package similarity_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/diffuse/pkg/codec"
	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/similarity"
)

func textured(w, h int) *codec.PixelBuffer {
	buf := codec.NewPixelBuffer(w, h)
	for i := range buf.Pix {
		buf.Pix[i] = uint8((i * 37) % 251)
	}
	return buf
}

func noisy(src *codec.PixelBuffer, amp int, seed uint64) *codec.PixelBuffer {
	r := rand.New(rand.NewPCG(seed, seed))
	out := src.Clone()
	for i, v := range out.Pix {
		n := int(v) + r.IntN(2*amp+1) - amp
		out.Pix[i] = uint8(min(max(n, 0), 255))
	}
	return out
}

func TestCompare_IdenticalImages(t *testing.T) {
	img := textured(16, 12)
	m, err := similarity.Compare(img, img.Clone())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.SSIM, 1e-9)
	assert.InDelta(t, 1.0, m.Cosine, 1e-9)
}

func TestSSIM_DecreasesWithNoise(t *testing.T) {
	img := textured(32, 32)
	light, err := similarity.SSIM(img, noisy(img, 10, 1))
	require.NoError(t, err)
	heavy, err := similarity.SSIM(img, noisy(img, 120, 1))
	require.NoError(t, err)

	assert.Less(t, light, 1.0)
	assert.Less(t, heavy, light)
}

func TestSSIM_TooSmall(t *testing.T) {
	img := textured(4, 4)
	_, err := similarity.SSIM(img, img)
	assert.ErrorIs(t, err, domain.ErrMetricUnavailable)

	_, err = similarity.Compare(img, img)
	assert.ErrorIs(t, err, domain.ErrMetricUnavailable)
}

func TestCosine(t *testing.T) {
	a := codec.NewPixelBuffer(2, 1)
	b := codec.NewPixelBuffer(2, 1)
	copy(a.Pix, []uint8{255, 0, 0, 0, 0, 0})
	copy(b.Pix, []uint8{0, 255, 0, 0, 0, 0})

	cos, err := similarity.Cosine(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0, cos, 1e-12)

	_, err = similarity.Cosine(a, codec.NewPixelBuffer(2, 1))
	assert.ErrorIs(t, err, domain.ErrMetricUnavailable)
}

func TestShapeMismatch(t *testing.T) {
	_, err := similarity.Compare(textured(8, 8), textured(9, 8))
	assert.ErrorIs(t, err, domain.ErrMetricUnavailable)
}

package colors

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forPelevin/trigreel/internal/types"
)

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func TestAverage_UniformRegionReturnsExactColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	fill(img, img.Bounds(), color.RGBA{R: 17, G: 200, B: 93, A: 255})

	got, err := Average(img, image.Rect(10, 10, 30, 20))
	require.NoError(t, err)
	assert.Equal(t, types.RGB{R: 17, G: 200, B: 93}, got)
}

func TestAverage_FloorsMean(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 0, G: 10, B: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 1, G: 11, B: 254, A: 255})

	got, err := Average(img, img.Bounds())
	require.NoError(t, err)
	assert.Equal(t, types.RGB{R: 0, G: 10, B: 254}, got)
}

func TestAverage_SubImageOffsets(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	fill(img, image.Rect(20, 20, 40, 40), color.RGBA{R: 255, A: 255})
	sub := img.SubImage(image.Rect(20, 20, 40, 40))

	got, err := Average(sub, image.Rect(25, 25, 35, 35))
	require.NoError(t, err)
	assert.Equal(t, types.RGB{R: 255}, got)
}

func TestAverage_GenericImagePath(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 40, 80, 120, 255
	}
	got, err := Average(img, img.Bounds())
	require.NoError(t, err)
	assert.Equal(t, types.RGB{R: 40, G: 80, B: 120}, got)
}

func TestAverage_EmptyRegion(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	_, err := Average(img, image.Rect(5, 5, 5, 9))
	assert.ErrorIs(t, err, ErrEmptyRegion)

}

func TestAverage_OffImagePixelsCountAsBlack(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	fill(img, img.Bounds(), color.RGBA{R: 200, G: 100, B: 40, A: 255})

	// half of the rect hangs off the right edge
	got, err := Average(img, image.Rect(5, 0, 15, 10))
	require.NoError(t, err)
	assert.Equal(t, types.RGB{R: 100, G: 50, B: 20}, got)

	got, err = Average(img, image.Rect(20, 20, 30, 30))
	require.NoError(t, err)
	assert.Equal(t, types.RGB{}, got)
}

func TestDistance_IdentityAndSymmetry(t *testing.T) {
	cs := []types.RGB{{}, {R: 255, G: 255, B: 255}, {R: 12, G: 99, B: 180}, {R: 250, G: 3, B: 77}}
	for _, a := range cs {
		assert.Zero(t, Distance(a, a))
		for _, b := range cs {
			assert.Equal(t, Distance(a, b), Distance(b, a))
		}
	}
	assert.InDelta(t, math.Sqrt(3*255*255), Distance(types.RGB{}, types.RGB{R: 255, G: 255, B: 255}), 1e-9)
}

func TestMatches_StrictTolerance(t *testing.T) {
	ref := types.RGB{R: 100, G: 100, B: 100}
	// 3-4-0 triangle scaled by 10 gives an exact distance of 50.
	atTol := types.RGB{R: 130, G: 140, B: 100}
	require.Equal(t, 50.0, Distance(ref, atTol))

	assert.False(t, Matches(atTol, ref, 50))
	assert.True(t, Matches(atTol, ref, 50.0001))
	assert.True(t, Matches(ref, ref, 1))
	assert.False(t, Matches(ref, ref, 0))
}

func TestHexRoundTrip(t *testing.T) {
	c := types.RGB{R: 0x10, G: 0xb9, B: 0x81}
	assert.Equal(t, "#10b981", Hex(c))

	got, err := ParseHex("#10B981")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = ParseHex("#fff")
	assert.Error(t, err)
	_, err = ParseHex("zzzzzz")
	assert.Error(t, err)
}

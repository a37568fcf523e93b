package artifact

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h, c int) *Artifact {
	return MustBuild(w, h, c, func(pix []float32) {
		for i := range pix {
			pix[i] = float32(i%256) / 255
		}
	})
}

func TestBuild_Validation(t *testing.T) {
	_, err := Build(0, 10, 3, nil)
	require.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = Build(10, -1, 3, nil)
	require.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = Build(10, 10, 5, nil)
	require.ErrorIs(t, err, ErrInvalidChannels)

	a, err := Build(4, 2, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, a.Width())
	assert.Equal(t, 2, a.Height())
	assert.Equal(t, 3, a.Channels())
	assert.Equal(t, image.Rect(0, 0, 4, 2), a.Bounds())
	assert.Len(t, a.Pixels(), 24)
}

func TestBuild_ClampsSamples(t *testing.T) {
	a := MustBuild(2, 1, 2, func(pix []float32) {
		pix[0] = -1
		pix[1] = 2
		pix[2] = float32(math.NaN())
		pix[3] = 0.25
	})
	assert.Equal(t, []float32{0, 1, 0, 0.25}, a.Pixels())
}

func TestArtifact_Immutable(t *testing.T) {
	a := MustBuild(2, 2, 1, func(pix []float32) {
		pix[0] = 0.5
	})

	copied := a.Pixels()
	copied[0] = 1
	assert.Equal(t, float32(0.5), a.At(0, 0, 0), "Pixels() must return a copy")

	assert.Equal(t, float32(0), a.At(5, 5, 0), "out of range reads return 0")
}

func TestArtifact_AlphaHelpers(t *testing.T) {
	rgb := gradient(3, 2, 3)
	assert.False(t, rgb.HasAlpha())
	assert.Equal(t, 3, rgb.ColorChannels())

	rgba := rgb.WithAlpha()
	require.Equal(t, 4, rgba.Channels())
	assert.True(t, rgba.HasAlpha())
	assert.Same(t, rgba, rgba.WithAlpha())
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			assert.Equal(t, float32(1), rgba.At(x, y, 3))
			for c := 0; c < 3; c++ {
				assert.Equal(t, rgb.At(x, y, c), rgba.At(x, y, c))
			}
		}
	}

	back := rgba.WithoutAlpha()
	assert.Equal(t, rgb.Pixels(), back.Pixels())
	assert.Same(t, rgb, rgb.WithoutAlpha())

	gray := gradient(2, 2, 1).WithAlpha()
	assert.Equal(t, 2, gray.Channels())
	assert.Equal(t, 1, gray.ColorChannels())
}

func TestFromImage_Channels(t *testing.T) {
	gray := image.NewGray16(image.Rect(0, 0, 2, 2))
	gray.SetGray16(1, 0, color.Gray16{Y: 0xffff})
	a := FromImage(gray)
	assert.Equal(t, 1, a.Channels())
	assert.Equal(t, float32(1), a.At(1, 0, 0))

	opaque := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	opaque.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 0, B: 51, A: 255})
	opaque.SetNRGBA(1, 0, color.NRGBA{A: 255})
	a = FromImage(opaque)
	require.Equal(t, 3, a.Channels())
	assert.Equal(t, float32(1), a.At(0, 0, 0))
	assert.InDelta(t, 0.2, a.At(0, 0, 2), 1e-6)

	translucent := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	translucent.SetNRGBA(0, 0, color.NRGBA{R: 10, A: 128})
	a = FromImage(translucent)
	assert.Equal(t, 4, a.Channels())
	assert.InDelta(t, 128.0/255, a.At(0, 0, 3), 1e-6)
}

func TestFromImage_OffsetBounds(t *testing.T) {
	img := image.NewNRGBA64(image.Rect(10, 20, 13, 22))
	img.SetNRGBA64(10, 20, color.NRGBA64{R: 0xffff, A: 0xffff})
	for y := 20; y < 22; y++ {
		for x := 10; x < 13; x++ {
			if x != 10 || y != 20 {
				img.SetNRGBA64(x, y, color.NRGBA64{A: 0xffff})
			}
		}
	}

	a := FromImage(img)
	assert.Equal(t, 3, a.Width())
	assert.Equal(t, 2, a.Height())
	assert.Equal(t, float32(1), a.At(0, 0, 0))
}

func TestRoundTrip16Bit(t *testing.T) {
	src := MustBuild(2, 1, 3, func(pix []float32) {
		copy(pix, []float32{0, 0.5, 1, 0.25, 0.75, 0.125})
	})

	img := src.ToNRGBA64()
	back := FromImage(img)
	require.Equal(t, 3, back.Channels())
	for i, v := range src.Pixels() {
		assert.InDelta(t, v, back.Pixels()[i], 1.0/0xffff)
	}
}

func TestToNRGBA_Gray(t *testing.T) {
	a := MustBuild(1, 1, 2, func(pix []float32) {
		pix[0] = 1
		pix[1] = 0.5
	})
	img := a.ToNRGBA()
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 128}, img.NRGBAAt(0, 0))
}

func TestToGray16_Luminance(t *testing.T) {
	a := MustBuild(1, 1, 3, func(pix []float32) {
		pix[0], pix[1], pix[2] = 1, 0, 0
	})
	img := a.ToGray16()
	assert.InDelta(t, 0.2126*0xffff, float64(img.Gray16At(0, 0).Y), 1)
}

func TestPreview(t *testing.T) {
	a := gradient(400, 200, 3)

	p := Preview(a, 100)
	assert.Equal(t, 100, p.Width())
	assert.Equal(t, 50, p.Height())
	assert.Equal(t, 3, p.Channels())

	assert.Same(t, a, Preview(a, 400))
	assert.Same(t, a, Preview(a, 0))
	assert.Nil(t, Preview(nil, 10))

	gray := Preview(gradient(64, 128, 1), 32)
	assert.Equal(t, 1, gray.Channels())
	assert.Equal(t, 16, gray.Width())
	assert.Equal(t, 32, gray.Height())
}

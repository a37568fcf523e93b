// Package artifact defines the immutable image buffers that flow between
// pipeline stages.
//
// An Artifact stores interleaved float32 samples in [0,1], row-major, with
// one to four channels:
//
//	1  gray
//	2  gray, alpha
//	3  red, green, blue
//	4  red, green, blue, alpha
//
// Build is the only constructor. Once its fill function returns, the buffer
// is never written again, so an Artifact can be shared freely between
// goroutines and handed to any number of consumers.
package artifact

import (
	"errors"
	"fmt"
	"image"
)

// Sentinel errors for artifact construction.
var (
	// ErrInvalidDimensions is returned for non-positive width or height.
	ErrInvalidDimensions = errors.New("invalid artifact dimensions")

	// ErrInvalidChannels is returned for channel counts outside 1..4.
	ErrInvalidChannels = errors.New("invalid channel count")
)

// Artifact is an immutable pixel buffer.
type Artifact struct {
	width    int
	height   int
	channels int
	pix      []float32
}

// Build allocates a w×h buffer with c channels, lets fill write the samples
// and freezes the result. Samples outside [0,1] are clamped and NaN becomes
// 0. A nil fill leaves the buffer black and transparent.
func Build(w, h, c int, fill func(pix []float32)) (*Artifact, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, w, h)
	}
	if c < 1 || c > 4 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannels, c)
	}

	pix := make([]float32, w*h*c)
	if fill != nil {
		fill(pix)
		for i, v := range pix {
			pix[i] = clamp(v)
		}
	}
	return &Artifact{width: w, height: h, channels: c, pix: pix}, nil
}

// MustBuild is Build for callers whose arguments are known to be valid.
func MustBuild(w, h, c int, fill func(pix []float32)) *Artifact {
	a, err := Build(w, h, c, fill)
	if err != nil {
		panic(err)
	}
	return a
}

func clamp(v float32) float32 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Width returns the width in pixels.
func (a *Artifact) Width() int { return a.width }

// Height returns the height in pixels.
func (a *Artifact) Height() int { return a.height }

// Channels returns the number of channels per pixel.
func (a *Artifact) Channels() int { return a.channels }

// HasAlpha reports whether the last channel is alpha.
func (a *Artifact) HasAlpha() bool { return a.channels == 2 || a.channels == 4 }

// ColorChannels returns the number of non-alpha channels.
func (a *Artifact) ColorChannels() int {
	if a.HasAlpha() {
		return a.channels - 1
	}
	return a.channels
}

// Bounds returns the image rectangle of the artifact.
func (a *Artifact) Bounds() image.Rectangle {
	return image.Rect(0, 0, a.width, a.height)
}

// At returns sample c of pixel (x, y). Out of range coordinates return 0.
func (a *Artifact) At(x, y, c int) float32 {
	if x < 0 || y < 0 || x >= a.width || y >= a.height || c < 0 || c >= a.channels {
		return 0
	}
	return a.pix[(y*a.width+x)*a.channels+c]
}

// Pixel returns the samples of pixel (x, y) without copying. The returned
// slice must not be modified.
func (a *Artifact) Pixel(x, y int) []float32 {
	i := (y*a.width + x) * a.channels
	return a.pix[i : i+a.channels : i+a.channels]
}

// Row returns the samples of row y without copying. The returned slice must
// not be modified.
func (a *Artifact) Row(y int) []float32 {
	stride := a.width * a.channels
	return a.pix[y*stride : (y+1)*stride : (y+1)*stride]
}

// Pixels returns a copy of all samples.
func (a *Artifact) Pixels() []float32 {
	out := make([]float32, len(a.pix))
	copy(out, a.pix)
	return out
}

// String describes the artifact shape.
func (a *Artifact) String() string {
	return fmt.Sprintf("artifact %dx%dx%d", a.width, a.height, a.channels)
}

// WithAlpha returns a copy with an opaque alpha channel added. Artifacts
// that already carry alpha are returned unchanged.
func (a *Artifact) WithAlpha() *Artifact {
	if a.HasAlpha() {
		return a
	}
	c := a.channels
	return MustBuild(a.width, a.height, c+1, func(pix []float32) {
		for i, j := 0, 0; i < len(a.pix); i, j = i+c, j+c+1 {
			copy(pix[j:j+c], a.pix[i:i+c])
			pix[j+c] = 1
		}
	})
}

// WithoutAlpha returns a copy with the alpha channel dropped. Artifacts
// without alpha are returned unchanged.
func (a *Artifact) WithoutAlpha() *Artifact {
	if !a.HasAlpha() {
		return a
	}
	c := a.channels - 1
	return MustBuild(a.width, a.height, c, func(pix []float32) {
		for i, j := 0, 0; j < len(pix); i, j = i+c+1, j+c {
			copy(pix[j:j+c], a.pix[i:i+c])
		}
	})
}

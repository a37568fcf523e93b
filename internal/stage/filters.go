package stage

import (
	"fmt"
	"math"

	"github.com/dshills/negstation/internal/artifact"
)

// Invert replaces every colour sample v with 1 - v. Alpha is kept.
type Invert struct{}

func newInvert() *Invert { return &Invert{} }

// Config implements Processor.
func (*Invert) Config() Config { return Config{} }

// SetConfig implements Processor.
func (*Invert) SetConfig(Config) error { return nil }

// Transform implements Transformer.
func (*Invert) Transform(a *artifact.Artifact) (*artifact.Artifact, error) {
	c := a.Channels()
	color := a.ColorChannels()
	src := a.Pixels()
	return artifact.Build(a.Width(), a.Height(), c, func(pix []float32) {
		for i := 0; i < len(pix); i += c {
			for k := 0; k < color; k++ {
				pix[i+k] = 1 - src[i+k]
			}
			if color < c {
				pix[i+color] = src[i+color]
			}
		}
	})
}

// Monochrome converts to Rec.709 luminance. The output always has four
// channels: luminance in red, green and blue plus alpha, which is kept
// from the input or made opaque.
type Monochrome struct{}

func newMonochrome() *Monochrome { return &Monochrome{} }

// Config implements Processor.
func (*Monochrome) Config() Config { return Config{} }

// SetConfig implements Processor.
func (*Monochrome) SetConfig(Config) error { return nil }

// Transform implements Transformer.
func (*Monochrome) Transform(a *artifact.Artifact) (*artifact.Artifact, error) {
	w, h := a.Width(), a.Height()
	return artifact.Build(w, h, 4, func(pix []float32) {
		i := 0
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := a.Pixel(x, y)
				var l, alpha float32 = 0, 1
				switch len(p) {
				case 1:
					l = p[0]
				case 2:
					l, alpha = p[0], p[1]
				case 3:
					l = artifact.Luminance(p[0], p[1], p[2])
				case 4:
					l, alpha = artifact.Luminance(p[0], p[1], p[2]), p[3]
				}
				pix[i], pix[i+1], pix[i+2], pix[i+3] = l, l, l, alpha
				i += 4
			}
		}
	})
}

// Rect is a rectangle in coordinates relative to the image size, so one
// setting applies equally to the preview and the full-resolution tier.
type Rect struct {
	X      float64 `config:"x"`
	Y      float64 `config:"y"`
	Width  float64 `config:"width"`
	Height float64 `config:"height"`
}

// FullRect covers the whole image.
var FullRect = Rect{X: 0, Y: 0, Width: 1, Height: 1}

// IsFull reports whether r covers the whole image.
func (r Rect) IsFull() bool {
	return r.X <= 0 && r.Y <= 0 && r.X+r.Width >= 1 && r.Y+r.Height >= 1
}

// Pixels converts r to pixel bounds for a w×h image. It reports false when
// the result is empty.
func (r Rect) Pixels(w, h int) (x0, y0, x1, y1 int, ok bool) {
	x0 = clampInt(int(math.Round(r.X*float64(w))), 0, w)
	y0 = clampInt(int(math.Round(r.Y*float64(h))), 0, h)
	x1 = clampInt(int(math.Round((r.X+r.Width)*float64(w))), 0, w)
	y1 = clampInt(int(math.Round((r.Y+r.Height)*float64(h))), 0, h)
	return x0, y0, x1, y1, x1 > x0 && y1 > y0
}

func (r Rect) config() Config {
	return Config{"x": r.X, "y": r.Y, "width": r.Width, "height": r.Height}
}

func (r Rect) validate() error {
	if r.Width < 0 || r.Height < 0 {
		return fmt.Errorf("%w: negative crop size", ErrInvalidConfig)
	}
	return nil
}

// cropArtifact cuts r out of a. A full or empty rectangle returns a.
func cropArtifact(a *artifact.Artifact, r Rect) (*artifact.Artifact, error) {
	if r.IsFull() {
		return a, nil
	}
	x0, y0, x1, y1, ok := r.Pixels(a.Width(), a.Height())
	if !ok {
		return a, nil
	}
	c := a.Channels()
	stride := (x1 - x0) * c
	return artifact.Build(x1-x0, y1-y0, c, func(pix []float32) {
		for y := y0; y < y1; y++ {
			row := a.Row(y)
			copy(pix[(y-y0)*stride:(y-y0+1)*stride], row[x0*c:x1*c])
		}
	})
}

// Crop keeps a relative rectangle of the input.
type Crop struct {
	rect Rect
}

func newCrop() *Crop { return &Crop{rect: FullRect} }

// Rect returns the current rectangle.
func (p *Crop) Rect() Rect { return p.rect }

// Config implements Processor.
func (p *Crop) Config() Config { return p.rect.config() }

// SetConfig implements Processor.
func (p *Crop) SetConfig(cfg Config) error {
	r := p.rect
	if err := cfg.Decode(&r); err != nil {
		return err
	}
	if err := r.validate(); err != nil {
		return err
	}
	p.rect = r
	return nil
}

// Transform implements Transformer.
func (p *Crop) Transform(a *artifact.Artifact) (*artifact.Artifact, error) {
	return cropArtifact(a, p.rect)
}

// Orientation rotates by quarter turns clockwise, then mirrors.
type Orientation struct {
	settings orientationSettings
}

type orientationSettings struct {
	Rotation int  `config:"rotation"`
	MirrorH  bool `config:"mirror_h"`
	MirrorV  bool `config:"mirror_v"`
}

func newOrientation() *Orientation { return &Orientation{} }

// Config implements Processor.
func (p *Orientation) Config() Config {
	return Config{"orientation": Config{
		"rotation": p.settings.Rotation,
		"mirror_h": p.settings.MirrorH,
		"mirror_v": p.settings.MirrorV,
	}}
}

// SetConfig implements Processor.
func (p *Orientation) SetConfig(cfg Config) error {
	next := struct {
		Orientation orientationSettings `config:"orientation"`
	}{p.settings}
	if err := cfg.Decode(&next); err != nil {
		return err
	}
	switch next.Orientation.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: rotation must be 0, 90, 180 or 270, got %d", ErrInvalidConfig, next.Orientation.Rotation)
	}
	p.settings = next.Orientation
	return nil
}

// Transform implements Transformer.
func (p *Orientation) Transform(a *artifact.Artifact) (*artifact.Artifact, error) {
	o := p.settings
	if o.Rotation == 0 && !o.MirrorH && !o.MirrorV {
		return a, nil
	}

	w, h := a.Width(), a.Height()
	ow, oh := w, h
	if o.Rotation == 90 || o.Rotation == 270 {
		ow, oh = h, w
	}

	c := a.Channels()
	return artifact.Build(ow, oh, c, func(pix []float32) {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				mx, my := x, y
				if o.MirrorH {
					mx = ow - 1 - x
				}
				if o.MirrorV {
					my = oh - 1 - y
				}

				var sx, sy int
				switch o.Rotation {
				case 90:
					sx, sy = my, h-1-mx
				case 180:
					sx, sy = w-1-mx, h-1-my
				case 270:
					sx, sy = w-1-my, mx
				default:
					sx, sy = mx, my
				}
				i := (y*ow + x) * c
				copy(pix[i:i+c], a.Pixel(sx, sy))
			}
		}
	})
}

// Framing straightens the image by an arbitrary angle and crops it. The
// rotation is about the image centre, keeps the image size, samples
// bilinearly and fills uncovered pixels with zero. Positive angles turn
// the picture counter-clockwise.
type Framing struct {
	angle float64
	rect  Rect
}

func newFraming() *Framing { return &Framing{rect: FullRect} }

// Config implements Processor.
func (p *Framing) Config() Config {
	return Config{"angle": p.angle, "crop": p.rect.config()}
}

// SetConfig implements Processor.
func (p *Framing) SetConfig(cfg Config) error {
	next := struct {
		Angle float64 `config:"angle"`
		Crop  Rect    `config:"crop"`
	}{p.angle, p.rect}
	if err := cfg.Decode(&next); err != nil {
		return err
	}
	if math.IsNaN(next.Angle) || math.IsInf(next.Angle, 0) {
		return fmt.Errorf("%w: angle must be finite", ErrInvalidConfig)
	}
	if err := next.Crop.validate(); err != nil {
		return err
	}
	p.angle, p.rect = next.Angle, next.Crop
	return nil
}

// Transform implements Transformer.
func (p *Framing) Transform(a *artifact.Artifact) (*artifact.Artifact, error) {
	rotated, err := rotate(a, p.angle)
	if err != nil {
		return nil, err
	}
	return cropArtifact(rotated, p.rect)
}

// rotate turns a by deg degrees counter-clockwise about its centre.
func rotate(a *artifact.Artifact, deg float64) (*artifact.Artifact, error) {
	if math.Mod(deg, 360) == 0 {
		return a, nil
	}

	w, h := a.Width(), a.Height()
	c := a.Channels()
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	cx, cy := float64(w-1)/2, float64(h-1)/2

	return artifact.Build(w, h, c, func(pix []float32) {
		for y := 0; y < h; y++ {
			dy := float64(y) - cy
			for x := 0; x < w; x++ {
				dx := float64(x) - cx
				sx := snap(cx + dx*cos - dy*sin)
				sy := snap(cy + dx*sin + dy*cos)
				bilinear(a, sx, sy, pix[(y*w+x)*c:(y*w+x+1)*c])
			}
		}
	})
}

// snap removes floating point noise around integer coordinates so that
// quarter turns sample exact pixels.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < 1e-9 {
		return r
	}
	return v
}

// bilinear samples a at (x, y) into out. Samples outside the image count
// as zero.
func bilinear(a *artifact.Artifact, x, y float64, out []float32) {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := float32(x-x0), float32(y-y0)
	ix, iy := int(x0), int(y0)

	for k := range out {
		v00 := a.At(ix, iy, k)
		v10 := a.At(ix+1, iy, k)
		v01 := a.At(ix, iy+1, k)
		v11 := a.At(ix+1, iy+1, k)
		top := v00 + (v10-v00)*fx
		bottom := v01 + (v11-v01)*fx
		out[k] = top + (bottom-top)*fy
	}
}

func clampInt(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

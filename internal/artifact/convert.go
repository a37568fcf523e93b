package artifact

import (
	"image"
	"image/color"
)

// FromImage converts img to an artifact. Gray images become one channel,
// everything else three, plus alpha when img is not fully opaque. Samples
// are read at 16-bit precision, so 8-bit sources keep their exact values.
func FromImage(img image.Image) *Artifact {
	return fromImage(img, channelsFor(img))
}

func channelsFor(img image.Image) int {
	gray := false
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		gray = true
	}

	alpha := true
	if o, ok := img.(interface{ Opaque() bool }); ok {
		alpha = !o.Opaque()
	}

	switch {
	case gray && alpha:
		return 2
	case gray:
		return 1
	case alpha:
		return 4
	default:
		return 3
	}
}

func fromImage(img image.Image, c int) *Artifact {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	return MustBuild(w, h, c, func(pix []float32) {
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				px := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
				r := float32(px.R) / 0xffff
				g := float32(px.G) / 0xffff
				bl := float32(px.B) / 0xffff
				a := float32(px.A) / 0xffff
				switch c {
				case 1:
					pix[i] = r
				case 2:
					pix[i], pix[i+1] = r, a
				case 3:
					pix[i], pix[i+1], pix[i+2] = r, g, bl
				case 4:
					pix[i], pix[i+1], pix[i+2], pix[i+3] = r, g, bl, a
				}
				i += c
			}
		}
	})
}

// rgba returns the samples of pixel (x, y) expanded to RGBA.
func (a *Artifact) rgba(x, y int) (r, g, b, alpha float32) {
	p := a.Pixel(x, y)
	switch a.channels {
	case 1:
		return p[0], p[0], p[0], 1
	case 2:
		return p[0], p[0], p[0], p[1]
	case 3:
		return p[0], p[1], p[2], 1
	default:
		return p[0], p[1], p[2], p[3]
	}
}

// ToNRGBA converts the artifact to an 8-bit non-premultiplied image.
func (a *Artifact) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(a.Bounds())
	for y := 0; y < a.height; y++ {
		for x := 0; x < a.width; x++ {
			r, g, b, al := a.rgba(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i] = to8(r)
			img.Pix[i+1] = to8(g)
			img.Pix[i+2] = to8(b)
			img.Pix[i+3] = to8(al)
		}
	}
	return img
}

// ToNRGBA64 converts the artifact to a 16-bit non-premultiplied image.
func (a *Artifact) ToNRGBA64() *image.NRGBA64 {
	img := image.NewNRGBA64(a.Bounds())
	for y := 0; y < a.height; y++ {
		for x := 0; x < a.width; x++ {
			r, g, b, al := a.rgba(x, y)
			img.SetNRGBA64(x, y, color.NRGBA64{R: to16(r), G: to16(g), B: to16(b), A: to16(al)})
		}
	}
	return img
}

// ToGray16 converts a gray artifact to a 16-bit gray image. Color
// artifacts are reduced with Rec.709 luminance.
func (a *Artifact) ToGray16() *image.Gray16 {
	img := image.NewGray16(a.Bounds())
	for y := 0; y < a.height; y++ {
		for x := 0; x < a.width; x++ {
			r, g, b, _ := a.rgba(x, y)
			v := r
			if a.ColorChannels() == 3 {
				v = Luminance(r, g, b)
			}
			img.SetGray16(x, y, color.Gray16{Y: to16(v)})
		}
	}
	return img
}

// Luminance returns the Rec.709 luminance of a linear RGB sample.
func Luminance(r, g, b float32) float32 {
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func to8(v float32) uint8 {
	return uint8(clamp(v)*0xff + 0.5)
}

func to16(v float32) uint16 {
	return uint16(clamp(v)*0xffff + 0.5)
}

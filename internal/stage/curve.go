package stage

import (
	"fmt"
	"math"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/script"
)

// CurveFunction is the global a curve script must define.
const CurveFunction = "curve"

// CurveSamples is the size of the lookup table sampled from the script.
const CurveSamples = 1024

// IdentityCurve is the script of a new curve node.
const IdentityCurve = "function curve(v) return v end"

// Curve applies a tone curve written in Lua to the colour channels. The
// script is run once per configuration to fill a lookup table; pixels are
// mapped through the table with linear interpolation.
type Curve struct {
	source string
	lut    []float32
}

func newCurve(*Node) (Processor, error) {
	c := &Curve{}
	if err := c.compile(IdentityCurve); err != nil {
		return nil, err
	}
	return c, nil
}

// Config implements Processor.
func (c *Curve) Config() Config {
	return Config{"script": c.source}
}

// SetConfig implements Processor. The previous curve stays in effect when
// the new script fails.
func (c *Curve) SetConfig(cfg Config) error {
	next := struct {
		Script string `config:"script"`
	}{c.source}
	if err := cfg.Decode(&next); err != nil {
		return err
	}
	if next.Script == c.source {
		return nil
	}
	return c.compile(next.Script)
}

// LUT returns a copy of the current lookup table.
func (c *Curve) LUT() []float32 {
	out := make([]float32, len(c.lut))
	copy(out, c.lut)
	return out
}

func (c *Curve) compile(src string) error {
	st := script.NewState()
	defer st.Close()

	if err := st.DoString(src); err != nil {
		return fmt.Errorf("%w: curve script: %v", ErrInvalidConfig, err)
	}
	if !st.HasFunction(CurveFunction) {
		return fmt.Errorf("%w: curve script must define %s(v)", ErrInvalidConfig, CurveFunction)
	}

	lut := make([]float32, CurveSamples)
	for i := range lut {
		v, err := st.CallNumber(CurveFunction, float64(i)/float64(CurveSamples-1))
		if err != nil {
			return fmt.Errorf("%w: curve script: %v", ErrInvalidConfig, err)
		}
		if math.IsNaN(v) {
			v = 0
		}
		lut[i] = float32(math.Min(1, math.Max(0, v)))
	}

	c.source = src
	c.lut = lut
	return nil
}

// lookup maps v through the table.
func (c *Curve) lookup(v float32) float32 {
	pos := v * float32(CurveSamples-1)
	i := int(pos)
	if i >= CurveSamples-1 {
		return c.lut[CurveSamples-1]
	}
	if i < 0 {
		return c.lut[0]
	}
	f := pos - float32(i)
	return c.lut[i] + (c.lut[i+1]-c.lut[i])*f
}

// Transform implements Transformer.
func (c *Curve) Transform(a *artifact.Artifact) (*artifact.Artifact, error) {
	ch := a.Channels()
	color := a.ColorChannels()
	src := a.Pixels()
	return artifact.Build(a.Width(), a.Height(), ch, func(pix []float32) {
		copy(pix, src)
		for i := 0; i < len(pix); i += ch {
			for k := 0; k < color; k++ {
				pix[i+k] = c.lookup(pix[i+k])
			}
		}
	})
}

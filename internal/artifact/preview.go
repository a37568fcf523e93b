package artifact

import (
	"github.com/disintegration/imaging"
)

// Preview returns a copy of a whose longer side is at most maxDim pixels,
// resampled with a Lanczos filter. Artifacts that already fit, and
// non-positive maxDim, return a itself.
func Preview(a *Artifact, maxDim int) *Artifact {
	if a == nil || maxDim <= 0 || (a.width <= maxDim && a.height <= maxDim) {
		return a
	}
	small := imaging.Fit(a.ToNRGBA(), maxDim, maxDim, imaging.Lanczos)
	return fromImage(small, a.channels)
}

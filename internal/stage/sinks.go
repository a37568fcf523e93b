package stage

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/artifact"
	"github.com/dshills/negstation/internal/event"
	"github.com/dshills/negstation/internal/pipeline"
)

// HistogramBins is the number of bins per channel.
const HistogramBins = 64

// Histogram holds log-scaled channel histograms normalized to a maximum
// of 1.
type Histogram struct {
	Stage     pipeline.StageID `json:"stage"`
	Red       []float64        `json:"red"`
	Green     []float64        `json:"green"`
	Blue      []float64        `json:"blue"`
	Luminance []float64        `json:"luminance"`
}

// Exported reports the outcome of an export.
type Exported struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Err    string `json:"error,omitempty"`
}

// Topics published by sink nodes.
var (
	TopicHistogram = event.NewKey[Histogram]("histogram-updated")
	TopicExported  = event.NewKey[Exported]("stage-exported")
)

// HistogramSink computes histograms of every preview it receives.
type HistogramSink struct {
	node *Node

	mu   sync.Mutex
	last Histogram
	ok   bool
}

func newHistogram(n *Node) (Processor, error) {
	return &HistogramSink{node: n}, nil
}

// Config implements Processor.
func (*HistogramSink) Config() Config { return Config{} }

// SetConfig implements Processor.
func (*HistogramSink) SetConfig(Config) error { return nil }

// Histogram returns the latest histogram and whether one was computed.
func (s *HistogramSink) Histogram() (Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.ok
}

// Consume implements Consumer. Full-resolution artifacts are ignored.
func (s *HistogramSink) Consume(a *artifact.Artifact, tier pipeline.Tier) error {
	if tier != pipeline.TierPreview {
		return nil
	}
	h := ComputeHistogram(a)
	h.Stage = s.node.Input()

	s.mu.Lock()
	s.last, s.ok = h, true
	s.mu.Unlock()

	event.Publish(s.node.env.Bus, TopicHistogram, h)
	return nil
}

// ComputeHistogram bins the red, green, blue and Rec.709 luminance samples
// of a into HistogramBins bins over [0,1] and scales each histogram by
// log1p, normalized to its maximum. Gray artifacts report the gray channel
// for every series.
func ComputeHistogram(a *artifact.Artifact) Histogram {
	var r, g, b, l [HistogramBins]float64
	bin := func(v float32) int {
		i := int(v * HistogramBins)
		if i >= HistogramBins {
			i = HistogramBins - 1
		}
		if i < 0 {
			i = 0
		}
		return i
	}

	for y := 0; y < a.Height(); y++ {
		for x := 0; x < a.Width(); x++ {
			p := a.Pixel(x, y)
			var pr, pg, pb float32
			if a.ColorChannels() == 1 {
				pr, pg, pb = p[0], p[0], p[0]
			} else {
				pr, pg, pb = p[0], p[1], p[2]
			}
			r[bin(pr)]++
			g[bin(pg)]++
			b[bin(pb)]++
			l[bin(artifact.Luminance(pr, pg, pb))]++
		}
	}

	return Histogram{
		Stage:     pipeline.NoStage,
		Red:       logNormalize(r[:]),
		Green:     logNormalize(g[:]),
		Blue:      logNormalize(b[:]),
		Luminance: logNormalize(l[:]),
	}
}

func logNormalize(counts []float64) []float64 {
	out := make([]float64, len(counts))
	peak := 0.0
	for i, c := range counts {
		out[i] = math.Log1p(c)
		peak = math.Max(peak, out[i])
	}
	if peak == 0 {
		return out
	}
	for i := range out {
		out[i] /= peak
	}
	return out
}

// ErrUnsupportedFormat is returned for export paths with an unknown
// extension.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// DefaultJPEGQuality is the JPEG quality of a new export node.
const DefaultJPEGQuality = 95

// ExportSink writes every full-resolution artifact it receives to its
// path. PNG and TIFF files are 16-bit, JPEG and BMP 8-bit; JPEG drops
// alpha. Previews are ignored.
type ExportSink struct {
	node *Node

	mu      sync.Mutex
	path    string
	quality int
}

func newExport(n *Node) (Processor, error) {
	return &ExportSink{node: n, quality: DefaultJPEGQuality}, nil
}

// Path returns the export path.
func (s *ExportSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Config implements Processor.
func (s *ExportSink) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Config{"path": s.path, "quality": s.quality}
}

// SetConfig implements Processor.
func (s *ExportSink) SetConfig(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := struct {
		Path    string `config:"path"`
		Quality int    `config:"quality"`
	}{s.path, s.quality}
	if err := cfg.Decode(&next); err != nil {
		return err
	}
	if next.Path != "" {
		if _, err := imaging.FormatFromFilename(next.Path); err != nil {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, next.Path)
		}
	}
	if next.Quality < 1 || next.Quality > 100 {
		return fmt.Errorf("%w: quality must be in 1..100, got %d", ErrInvalidConfig, next.Quality)
	}
	s.path, s.quality = next.Path, next.Quality
	return nil
}

// Consume implements Consumer.
func (s *ExportSink) Consume(a *artifact.Artifact, tier pipeline.Tier) error {
	if tier != pipeline.TierFull {
		return nil
	}

	s.mu.Lock()
	path, quality := s.path, s.quality
	s.mu.Unlock()

	log := s.node.log.WithField("path", path)
	if path == "" {
		log.Warn("no export path set, full-resolution image not saved")
		return nil
	}

	err := WriteImage(path, a, quality)
	result := Exported{Path: path, Width: a.Width(), Height: a.Height()}
	if err != nil {
		result.Err = err.Error()
	}
	event.Publish(s.node.env.Bus, TopicExported, result)

	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"width": a.Width(), "height": a.Height()}).Info("saved full-resolution image")
	return nil
}

// WriteImage encodes a to path in the format given by its extension.
func WriteImage(path string, a *artifact.Artifact, jpegQuality int) error {
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	var img image.Image
	switch format {
	case imaging.PNG, imaging.TIFF:
		if a.ColorChannels() == 1 && !a.HasAlpha() {
			img = a.ToGray16()
		} else {
			img = a.ToNRGBA64()
		}
	case imaging.JPEG:
		img = a.WithoutAlpha().ToNRGBA()
	default:
		img = a.ToNRGBA()
	}

	if err := imaging.Save(img, path, imaging.JPEGQuality(jpegQuality)); err != nil {
		return fmt.Errorf("export %s: %w", path, err)
	}
	return nil
}

// Viewer keeps the latest artifact of each tier of its input.
type Viewer struct {
	mu      sync.Mutex
	preview *artifact.Artifact
	full    *artifact.Artifact
}

func newViewer(*Node) (Processor, error) {
	return &Viewer{}, nil
}

// Config implements Processor.
func (*Viewer) Config() Config { return Config{} }

// SetConfig implements Processor.
func (*Viewer) SetConfig(Config) error { return nil }

// Consume implements Consumer.
func (v *Viewer) Consume(a *artifact.Artifact, tier pipeline.Tier) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if tier == pipeline.TierFull {
		v.full = a
	} else {
		v.preview = a
	}
	return nil
}

// Artifact returns the latest artifact of tier, or nil.
func (v *Viewer) Artifact(tier pipeline.Tier) *artifact.Artifact {
	v.mu.Lock()
	defer v.mu.Unlock()

	if tier == pipeline.TierFull {
		return v.full
	}
	return v.preview
}

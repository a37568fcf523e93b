package converter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// Standard formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dshills/negstation/internal/artifact"
)

// Sentinel errors for decoding.
var (
	// ErrUnsupportedFormat is returned when no decoder handles an extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrDecoderPanic is wrapped when a decoder panics.
	ErrDecoderPanic = errors.New("decoder panicked")
)

// DecodeError reports a failed conversion of one source.
type DecodeError struct {
	// Source is the path that failed.
	Source string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return "decode " + e.Source + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder converts the file at path into an artifact.
type Decoder interface {
	Decode(ctx context.Context, path string, s Settings) (*artifact.Artifact, error)
}

// DecoderFunc is a function adapter for Decoder.
type DecoderFunc func(ctx context.Context, path string, s Settings) (*artifact.Artifact, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(ctx context.Context, path string, s Settings) (*artifact.Artifact, error) {
	return f(ctx, path, s)
}

// RawExtensions lists the camera raw extensions handled by the raw decoder.
var RawExtensions = []string{".cr2", ".cr3", ".nef", ".arw", ".dng", ".raf", ".orf", ".rw2", ".pef"}

// StandardExtensions lists the extensions decoded in process.
var StandardExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".webp"}

// DecoderSet dispatches to a decoder by lowercase file extension.
type DecoderSet struct {
	mu       sync.RWMutex
	byExt    map[string]Decoder
	fallback Decoder
}

// NewDecoderSet creates an empty set.
func NewDecoderSet() *DecoderSet {
	return &DecoderSet{byExt: make(map[string]Decoder)}
}

// DefaultDecoders returns a set that decodes StandardExtensions in process
// and RawExtensions with the given raw developer binary.
func DefaultDecoders(rawBinary string) *DecoderSet {
	set := NewDecoderSet()
	std := StandardDecoder{}
	for _, ext := range StandardExtensions {
		set.Register(ext, std)
	}
	raw := &RawDecoder{Binary: rawBinary}
	for _, ext := range RawExtensions {
		set.Register(ext, raw)
	}
	return set
}

// Register maps ext (with or without the leading dot) to d.
func (s *DecoderSet) Register(ext string, d Decoder) {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	s.mu.Lock()
	s.byExt[ext] = d
	s.mu.Unlock()
}

// SetFallback sets the decoder used for unregistered extensions.
func (s *DecoderSet) SetFallback(d Decoder) {
	s.mu.Lock()
	s.fallback = d
	s.mu.Unlock()
}

// Supports reports whether path has a registered extension.
func (s *DecoderSet) Supports(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byExt[strings.ToLower(filepath.Ext(path))]
	return ok || s.fallback != nil
}

// Decode implements Decoder.
func (s *DecoderSet) Decode(ctx context.Context, path string, settings Settings) (*artifact.Artifact, error) {
	s.mu.RLock()
	d, ok := s.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		d = s.fallback
	}
	s.mu.RUnlock()

	if d == nil {
		return nil, &DecodeError{Source: path, Err: ErrUnsupportedFormat}
	}
	return d.Decode(ctx, path, settings)
}

// StandardDecoder decodes the image formats registered with package image.
type StandardDecoder struct{}

// Decode implements Decoder.
func (StandardDecoder) Decode(ctx context.Context, path string, s Settings) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if errors.Is(err, image.ErrFormat) {
		return nil, &DecodeError{Source: path, Err: fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)}
	}
	if err != nil {
		return nil, &DecodeError{Source: path, Err: err}
	}

	a := artifact.FromImage(img)
	if s.AddAlpha {
		a = a.WithAlpha()
	}
	return a, nil
}

package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/dshills/negstation/internal/artifact"
)

// DefaultRawBinary is the raw developer looked up on PATH when none is
// configured.
const DefaultRawBinary = "dcraw"

// ErrRawDeveloper is wrapped when the raw developer process fails.
var ErrRawDeveloper = errors.New("raw developer failed")

// RawDecoder develops camera raw files with a dcraw-compatible binary
// (dcraw, dcraw_emu) that writes a TIFF to stdout.
type RawDecoder struct {
	// Binary is the executable name or path. Empty means DefaultRawBinary.
	Binary string

	// ExtraArgs are passed before the settings-derived flags.
	ExtraArgs []string
}

// Args returns the command line flags for s, without the input path.
func (d *RawDecoder) Args(s Settings) []string {
	args := append([]string{}, d.ExtraArgs...)
	args = append(args, "-c", "-T")

	if s.OutputBPS == 16 {
		args = append(args, "-6")
	}

	switch {
	case s.UseCameraWB:
		args = append(args, "-w")
	case s.UseAutoWB:
		args = append(args, "-a")
	default:
		args = append(args, "-r")
		for _, m := range s.UserWB {
			args = append(args, formatFloat(m))
		}
	}

	args = append(args,
		"-g", "1", formatFloat(s.Gamma),
		"-b", formatFloat(s.Bright),
	)
	if s.NoAutoBright {
		args = append(args, "-W")
	}
	if s.HalfSize {
		args = append(args, "-h")
	}
	if s.FourColorRGB {
		args = append(args, "-f")
	}
	if q, ok := demosaicQuality[s.Demosaic]; ok {
		args = append(args, "-q", strconv.Itoa(q))
	}
	if o, ok := colorSpaceIndex[s.ColorSpace]; ok {
		args = append(args, "-o", strconv.Itoa(o))
	}
	return args
}

// Decode implements Decoder.
func (d *RawDecoder) Decode(ctx context.Context, path string, s Settings) (*artifact.Artifact, error) {
	bin := d.Binary
	if bin == "" {
		bin = DefaultRawBinary
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, append(d.Args(s), path)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, &DecodeError{Source: path, Err: fmt.Errorf("%w: %s", ErrRawDeveloper, msg)}
	}

	img, err := tiff.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, &DecodeError{Source: path, Err: fmt.Errorf("read developer output: %w", err)}
	}

	a := artifact.FromImage(img)
	if s.AddAlpha {
		a = a.WithAlpha()
	}
	return a, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

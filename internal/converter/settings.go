package converter

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Demosaic selects the raw interpolation algorithm.
type Demosaic string

// Demosaic algorithms, in dcraw quality order.
const (
	DemosaicLinear Demosaic = "linear"
	DemosaicVNG    Demosaic = "vng"
	DemosaicPPG    Demosaic = "ppg"
	DemosaicAHD    Demosaic = "ahd"
	DemosaicDCB    Demosaic = "dcb"
)

// ColorSpace selects the output color space of raw development.
type ColorSpace string

// Output color spaces, in dcraw order.
const (
	ColorSpaceRaw      ColorSpace = "raw"
	ColorSpaceSRGB     ColorSpace = "srgb"
	ColorSpaceAdobe    ColorSpace = "adobe"
	ColorSpaceWide     ColorSpace = "wide"
	ColorSpaceProPhoto ColorSpace = "prophoto"
	ColorSpaceXYZ      ColorSpace = "xyz"
)

var (
	demosaicQuality = map[Demosaic]int{
		DemosaicLinear: 0, DemosaicVNG: 1, DemosaicPPG: 2, DemosaicAHD: 3, DemosaicDCB: 4,
	}
	colorSpaceIndex = map[ColorSpace]int{
		ColorSpaceRaw: 0, ColorSpaceSRGB: 1, ColorSpaceAdobe: 2,
		ColorSpaceWide: 3, ColorSpaceProPhoto: 4, ColorSpaceXYZ: 5,
	}
)

// ErrInvalidSettings is wrapped by Settings.Validate errors.
var ErrInvalidSettings = errors.New("invalid converter settings")

// Settings are the decode parameters read by the worker for every item.
type Settings struct {
	// OutputBPS is the bit depth requested from the raw developer, 8 or 16.
	OutputBPS int `toml:"output_bps" yaml:"output_bps" json:"output_bps"`

	// Gamma is the toe slope of the output curve; the power is fixed at 1.
	Gamma float64 `toml:"gamma" yaml:"gamma" json:"gamma"`

	// Bright scales the white level.
	Bright float64 `toml:"bright" yaml:"bright" json:"bright"`

	// NoAutoBright disables automatic brightening.
	NoAutoBright bool `toml:"no_auto_bright" yaml:"no_auto_bright" json:"no_auto_bright"`

	// UseCameraWB uses the white balance recorded by the camera.
	UseCameraWB bool `toml:"use_camera_wb" yaml:"use_camera_wb" json:"use_camera_wb"`

	// UseAutoWB averages the whole image for white balance. Ignored when
	// UseCameraWB is set.
	UseAutoWB bool `toml:"use_auto_wb" yaml:"use_auto_wb" json:"use_auto_wb"`

	// UserWB holds R, G, B, G2 multipliers used when neither automatic
	// white balance is enabled.
	UserWB [4]float64 `toml:"user_wb" yaml:"user_wb" json:"user_wb"`

	// HalfSize develops at half resolution without demosaicing.
	HalfSize bool `toml:"half_size" yaml:"half_size" json:"half_size"`

	// FourColorRGB interpolates RGB as four colors.
	FourColorRGB bool `toml:"four_color_rgb" yaml:"four_color_rgb" json:"four_color_rgb"`

	// Demosaic is the interpolation algorithm.
	Demosaic Demosaic `toml:"demosaic" yaml:"demosaic" json:"demosaic"`

	// ColorSpace is the output color space.
	ColorSpace ColorSpace `toml:"color_space" yaml:"color_space" json:"color_space"`

	// AddAlpha appends an opaque alpha channel to decoded images.
	AddAlpha bool `toml:"add_alpha" yaml:"add_alpha" json:"add_alpha"`
}

// DefaultSettings returns 16-bit linear sRGB development with camera white
// balance and AHD demosaicing.
func DefaultSettings() Settings {
	return Settings{
		OutputBPS:   16,
		Gamma:       1.0,
		Bright:      1.0,
		UseCameraWB: true,
		UserWB:      [4]float64{1, 1, 1, 1},
		Demosaic:    DemosaicAHD,
		ColorSpace:  ColorSpaceSRGB,
		AddAlpha:    true,
	}
}

// Validate checks the settings for values the developer cannot use.
func (s Settings) Validate() error {
	var errs []error
	if s.OutputBPS != 8 && s.OutputBPS != 16 {
		errs = append(errs, fmt.Errorf("output_bps must be 8 or 16, got %d", s.OutputBPS))
	}
	if s.Gamma <= 0 {
		errs = append(errs, fmt.Errorf("gamma must be positive, got %g", s.Gamma))
	}
	if s.Bright <= 0 {
		errs = append(errs, fmt.Errorf("bright must be positive, got %g", s.Bright))
	}
	for i, m := range s.UserWB {
		if m <= 0 {
			errs = append(errs, fmt.Errorf("user_wb[%d] must be positive, got %g", i, m))
		}
	}
	if _, ok := demosaicQuality[s.Demosaic]; !ok {
		errs = append(errs, fmt.Errorf("unknown demosaic %q", s.Demosaic))
	}
	if _, ok := colorSpaceIndex[s.ColorSpace]; !ok {
		errs = append(errs, fmt.Errorf("unknown color_space %q", s.ColorSpace))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// SettingsStore holds the settings shared between the worker and whoever
// edits them. Loads are lock-free.
type SettingsStore struct {
	v  atomic.Pointer[Settings]
	mu sync.Mutex
}

// NewSettingsStore creates a store holding s.
func NewSettingsStore(s Settings) *SettingsStore {
	st := &SettingsStore{}
	st.v.Store(&s)
	return st
}

// Load returns a copy of the current settings.
func (st *SettingsStore) Load() Settings {
	return *st.v.Load()
}

// Store replaces the settings.
func (st *SettingsStore) Store(s Settings) {
	st.mu.Lock()
	st.v.Store(&s)
	st.mu.Unlock()
}

// Update applies fn to a copy of the current settings and stores the result.
func (st *SettingsStore) Update(fn func(*Settings)) Settings {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := *st.v.Load()
	fn(&s)
	st.v.Store(&s)
	return s
}

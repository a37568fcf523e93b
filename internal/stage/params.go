package stage

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
)

// ErrInvalidConfig is returned when a node setting has the wrong type or
// is out of range.
var ErrInvalidConfig = errors.New("invalid stage config")

// Config is the persisted settings map of a node. Values come from JSON,
// YAML and TOML documents, so numbers may arrive as any Go numeric type and
// flags may arrive as strings.
type Config map[string]any

// Decode overlays c onto out, a pointer to a struct whose fields carry
// `config` tags. Keys absent from c, or set to nil, leave the field as it
// was, so callers seed out with the current settings. Scalars are converted
// weakly ("True" and 1 both decode as true), except that a fractional
// number never decodes into an integer field.
func (c Config) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		WeaklyTypedInput: true,
		DecodeHook:       wholeNumbers,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(c)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func wholeNumbers(_ reflect.Type, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	var f float64
	switch n := data.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	default:
		return data, nil
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not a whole number", f)
	}
	return data, nil
}

// Clone returns a deep copy of c. Nested maps are copied, other values are
// shared.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		switch m := v.(type) {
		case Config:
			out[k] = m.Clone()
		case map[string]any:
			out[k] = Config(m).Clone()
		default:
			out[k] = v
		}
	}
	return out
}

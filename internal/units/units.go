// Package units converts between the three unit systems used by the yaw
// controller: image pixels, the normalized axis-rotation unit (ARU) of the
// flight controller's control surface, and radians.
package units

import (
	"errors"
	"fmt"
	"math"
)

// Domain names the bounded unit systems a Converter maps between. Only the
// two declared values are meaningful; the zero value is not a domain.
type Domain int

const (
	Pixels Domain = iota + 1
	Normalized
)

func (d Domain) String() string {
	switch d {
	case Pixels:
		return "px"
	case Normalized:
		return "aru"
	default:
		return fmt.Sprintf("Domain(%d)", int(d))
	}
}

// Default ranges of the camera image width and the ARU stick range.
const (
	DefaultPixelMin = 0.0
	DefaultPixelMax = 640.0
	DefaultARUMin   = 989.0
	DefaultARUMax   = 2012.0
)

// ErrInvalidRange is returned when a range has Min >= Max.
var ErrInvalidRange = errors.New("invalid unit range")

// Range is a closed interval [Min, Max] of one unit system.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Span returns Max - Min.
func (r Range) Span() float64 { return r.Max - r.Min }

// Validate reports ErrInvalidRange unless Min < Max and both are finite.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("%w: non-finite bound [%v, %v]", ErrInvalidRange, r.Min, r.Max)
	}
	if r.Min >= r.Max {
		return fmt.Errorf("%w: min %v must be less than max %v", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

func (r Range) clamp(v float64) float64 {
	return math.Max(r.Min, math.Min(v, r.Max))
}

// Converter maps absolute positions and deltas between pixels, ARU and
// radians. It is immutable after construction and safe for concurrent use.
type Converter struct {
	pixel      Range
	normalized Range
}

// NewConverter validates both ranges and returns a Converter.
func NewConverter(pixel, normalized Range) (*Converter, error) {
	if err := pixel.Validate(); err != nil {
		return nil, fmt.Errorf("pixel range: %w", err)
	}
	if err := normalized.Validate(); err != nil {
		return nil, fmt.Errorf("normalized range: %w", err)
	}
	return &Converter{pixel: pixel, normalized: normalized}, nil
}

// DefaultConverter returns a converter over a 640px image and the
// [989, 2012] ARU range.
func DefaultConverter() *Converter {
	return &Converter{
		pixel:      Range{Min: DefaultPixelMin, Max: DefaultPixelMax},
		normalized: Range{Min: DefaultARUMin, Max: DefaultARUMax},
	}
}

// PixelRange returns the pixel domain bounds.
func (c *Converter) PixelRange() Range { return c.pixel }

// NormalizedRange returns the ARU domain bounds.
func (c *Converter) NormalizedRange() Range { return c.normalized }

// rangeOf panics on an undeclared domain: converting against a guessed
// range would silently produce wrong rates.
func (c *Converter) rangeOf(d Domain) Range {
	switch d {
	case Pixels:
		return c.pixel
	case Normalized:
		return c.normalized
	default:
		panic(fmt.Sprintf("units: unknown domain %v", d))
	}
}

// interpolate maps v from src onto dst and clamps to dst.
func interpolate(v float64, src, dst Range) float64 {
	out := dst.Span()/src.Span()*(v-src.Min) + dst.Min
	return dst.clamp(out)
}

// ToPixels converts an absolute ARU value to pixels, clamped to the pixel range.
func (c *Converter) ToPixels(aru float64) float64 {
	return interpolate(aru, c.normalized, c.pixel)
}

// ToNormalized converts an absolute pixel position to ARU, clamped to the
// ARU range.
func (c *Converter) ToNormalized(px float64) float64 {
	return interpolate(px, c.pixel, c.normalized)
}

// DeltaToRadians scales a difference expressed in domain d to radians. One
// full span of the domain corresponds to 2π. Deltas are rates, not
// positions, so the result is never clamped.
func (c *Converter) DeltaToRadians(delta float64, d Domain) float64 {
	return delta * (2 * math.Pi) / c.rangeOf(d).Span()
}

// RadiansToDelta is the inverse of DeltaToRadians.
func (c *Converter) RadiansToDelta(radians float64, d Domain) float64 {
	return radians * c.rangeOf(d).Span() / (2 * math.Pi)
}

// PixelDeltaToNormalized scales a pixel difference by the ratio of the
// two spans.
func (c *Converter) PixelDeltaToNormalized(px float64) float64 {
	return px * c.normalized.Span() / c.pixel.Span()
}

// NormalizedDeltaToPixels scales an ARU difference by the ratio of the two
// spans.
func (c *Converter) NormalizedDeltaToPixels(aru float64) float64 {
	return aru * c.pixel.Span() / c.normalized.Span()
}

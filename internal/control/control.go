// Package control turns the horizontal tracking error in pixels into a yaw
// rate command in radians per second.
//
// All controllers are pure functions of their configuration and input and
// hold no state between calls. Horizontal error is right-positive: a target
// to the right of the frame centre yields a positive (clockwise) yaw rate.
package control

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/yawtrack/internal/units"
)

// Variant names accepted by New.
const (
	VariantConstant     = "constant"
	VariantProportional = "proportional"
)

// ValidVariants lists the controller variants New can build.
var ValidVariants = []string{VariantConstant, VariantProportional}

var (
	// ErrUnknownVariant is returned by New for an unrecognised variant name.
	ErrUnknownVariant = errors.New("unknown controller variant")
	// ErrInvalidParameter is returned by New for out-of-range numeric parameters.
	ErrInvalidParameter = errors.New("invalid controller parameter")
)

// Controller computes a yaw rate from a signed horizontal pixel error.
type Controller interface {
	// YawRate returns the commanded yaw rate in rad/s for errorPx.
	YawRate(errorPx float64) float64
	// Name returns the variant name.
	Name() string
}

// Params selects and parameterises a controller.
type Params struct {
	Variant     string  `json:"variant"`
	DeadZonePx  float64 `json:"dead_zone_px"`
	SpeedPx     float64 `json:"fixed_speed_px"` // constant variant, px/s
	LeverFactor float64 `json:"lever_factor"`   // proportional variant, (px/s)/px
	MaxRatePx   float64 `json:"max_rate_px"`    // proportional variant, px/s
}

// DefaultParams mirrors the constant-rate controller the tracker starts with.
func DefaultParams() Params {
	return Params{
		Variant:     VariantConstant,
		DeadZonePx:  5.0,
		SpeedPx:     5.0,
		LeverFactor: 0.1,
		MaxRatePx:   100.0,
	}
}

// New builds the controller named by p.Variant. Parameters are validated
// here so that a bad configuration fails at startup, never mid-flight.
func New(p Params, conv *units.Converter) (Controller, error) {
	if conv == nil {
		return nil, fmt.Errorf("%w: nil unit converter", ErrInvalidParameter)
	}
	if err := checkNonNegative("dead_zone_px", p.DeadZonePx); err != nil {
		return nil, err
	}

	switch p.Variant {
	case VariantConstant:
		if err := checkNonNegative("fixed_speed_px", p.SpeedPx); err != nil {
			return nil, err
		}
		return &ConstantRate{converter: conv, DeadZonePx: p.DeadZonePx, SpeedPx: p.SpeedPx}, nil
	case VariantProportional:
		if err := checkNonNegative("lever_factor", p.LeverFactor); err != nil {
			return nil, err
		}
		if err := checkNonNegative("max_rate_px", p.MaxRatePx); err != nil {
			return nil, err
		}
		return &Proportional{
			converter:   conv,
			LeverFactor: p.LeverFactor,
			MaxRatePx:   p.MaxRatePx,
			DeadZonePx:  p.DeadZonePx,
		}, nil
	default:
		return nil, fmt.Errorf("%w %q: expected one of %v", ErrUnknownVariant, p.Variant, ValidVariants)
	}
}

func checkNonNegative(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %s must be a finite non-negative number, got %v", ErrInvalidParameter, name, v)
	}
	return nil
}

// inDeadZone reports whether errorPx is strictly inside the dead band.
func inDeadZone(errorPx, deadZonePx float64) bool {
	return math.Abs(errorPx) < deadZonePx
}

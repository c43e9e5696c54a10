package control

import (
	"math"

	"github.com/banshee-data/yawtrack/internal/units"
)

// Proportional yaws at a rate proportional to the error, saturated at
// MaxRatePx and suppressed inside the dead zone.
//
// The order of operations is fixed: scale, clamp, dead zone, sign, convert.
// Clamping happens before the dead-zone test, so an error just outside the
// dead zone yields its scaled rate clamped to MaxRatePx, never more.
type Proportional struct {
	converter   *units.Converter
	LeverFactor float64
	MaxRatePx   float64
	DeadZonePx  float64
}

// NewProportional returns a Proportional controller. Use New for validated
// construction from configuration.
func NewProportional(conv *units.Converter, leverFactor, maxRatePx, deadZonePx float64) *Proportional {
	return &Proportional{
		converter:   conv,
		LeverFactor: leverFactor,
		MaxRatePx:   maxRatePx,
		DeadZonePx:  deadZonePx,
	}
}

func (p *Proportional) Name() string { return VariantProportional }

// YawRate implements Controller.
func (p *Proportional) YawRate(errorPx float64) float64 {
	pxRate := errorPx * p.LeverFactor

	if pxRate > p.MaxRatePx {
		pxRate = p.MaxRatePx
	} else if pxRate < -p.MaxRatePx {
		pxRate = -p.MaxRatePx
	}

	if inDeadZone(errorPx, p.DeadZonePx) {
		pxRate = 0
	} else {
		// The error decides the direction; the clamped value only the magnitude.
		pxRate = math.Copysign(math.Abs(pxRate), errorPx)
	}

	return p.converter.DeltaToRadians(pxRate, units.Pixels)
}

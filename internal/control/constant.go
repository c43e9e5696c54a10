package control

import "github.com/banshee-data/yawtrack/internal/units"

// ConstantRate yaws at a fixed pixel speed towards the target whenever the
// error is outside the dead zone, independent of the error magnitude.
type ConstantRate struct {
	converter  *units.Converter
	DeadZonePx float64
	SpeedPx    float64
}

// NewConstantRate returns a ConstantRate controller. Use New for validated
// construction from configuration.
func NewConstantRate(conv *units.Converter, speedPx, deadZonePx float64) *ConstantRate {
	return &ConstantRate{converter: conv, SpeedPx: speedPx, DeadZonePx: deadZonePx}
}

func (c *ConstantRate) Name() string { return VariantConstant }

// YawRate returns 0 inside the dead zone and ±SpeedPx (converted to rad/s)
// outside it.
func (c *ConstantRate) YawRate(errorPx float64) float64 {
	var pxRate float64
	switch {
	case inDeadZone(errorPx, c.DeadZonePx):
		pxRate = 0
	case errorPx > 0:
		pxRate = c.SpeedPx
	default:
		pxRate = -c.SpeedPx
	}
	return c.converter.DeltaToRadians(pxRate, units.Pixels)
}

package sim

import (
	"math"
)

// metersPerDegLat is the small-angle conversion used for positioning noise
// and speed.
const metersPerDegLat = 111320.0

// CircuitPath is a deterministic circular ground track with a slow altitude
// oscillation. Step n is one positioning tick.
type CircuitPath struct {
	CenterLatDeg float64
	CenterLonDeg float64
	BaseAltM     float64
	// RadiusDeg is the circle radius in degrees of latitude.
	RadiusDeg float64
	// RadPerStep is how far around the circle one step moves.
	RadPerStep float64
}

// DefaultCircuit is a ~111 m circle over Denver.
func DefaultCircuit() CircuitPath {
	return CircuitPath{
		CenterLatDeg: 39.7392,
		CenterLonDeg: -104.9903,
		BaseAltM:     1655,
		RadiusDeg:    0.001,
		RadPerStep:   0.05,
	}
}

// PathState is the ground truth at a step.
type PathState struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
	// HeadingRad is the direction of motion, 0 = north, unwrapped.
	HeadingRad float64
	SpeedMps   float64
	// VerticalMps is the altitude rate per step.
	VerticalMps float64
}

// At returns the ground truth at step n.
func (p CircuitPath) At(n uint64) PathState {
	t := float64(n)
	angle := p.RadPerStep * t

	lat := p.CenterLatDeg + p.RadiusDeg*math.Cos(angle)
	// Longitude offsets shrink with cos(lat) so the circle stays round on the ground.
	lon := p.CenterLonDeg + p.RadiusDeg*math.Sin(angle)/math.Cos(lat*math.Pi/180)

	return PathState{
		LatDeg:      lat,
		LonDeg:      lon,
		AltM:        p.BaseAltM + 50*math.Sin(0.02*t),
		HeadingRad:  angle + math.Pi/2,
		SpeedMps:    p.RadiusDeg * metersPerDegLat * p.RadPerStep,
		VerticalMps: 50 * 0.02 * math.Cos(0.02*t),
	}
}

// headingDeg maps radians to compass degrees in [0, 360).
func headingDeg(rad float64) float64 {
	d := math.Mod(rad*180/math.Pi, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

package sim

import (
	"math"
	"math/rand/v2"
	"time"

	"fusion-telemetry/internal/geo"
	"fusion-telemetry/internal/telemetry"
	"fusion-telemetry/internal/timeutil"
)

const (
	DefaultPositioningPeriod = time.Second
	DefaultPositionNoiseStd  = 2.5

	nominalHDOP       = 1.2
	nominalSatellites = 12

	hdopMin = 0.8
	hdopMax = 8.0

	// qualityEvery is how many ticks pass between signal quality jumps.
	qualityEvery = 20
)

type PositioningConfig struct {
	Period time.Duration
	// Path is the ground track. The zero value selects DefaultCircuit.
	Path  CircuitPath
	Clock timeutil.Clock
}

// PositioningSim produces position fixes along a CircuitPath with signal
// quality that wanders and can be degraded by faults.
type PositioningSim struct {
	period time.Duration
	path   CircuitPath
	clock  timeutil.Clock
	rng    *rand.Rand

	updates uint64
	truth   PathState

	hdop       float64
	satellites int
	noiseStd   float64

	lastGood telemetry.Position
}

func NewPositioningSim(cfg PositioningConfig, rng *rand.Rand) *PositioningSim {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPositioningPeriod
	}
	if cfg.Path == (CircuitPath{}) {
		cfg.Path = DefaultCircuit()
	}
	if rng == nil {
		rng = NewRand(0)
	}
	s := &PositioningSim{
		period:     cfg.Period,
		path:       cfg.Path,
		clock:      timeutil.OrReal(cfg.Clock),
		rng:        rng,
		hdop:       nominalHDOP,
		satellites: nominalSatellites,
		noiseStd:   DefaultPositionNoiseStd,
	}
	// Stationary at the circuit center until the first tick.
	s.truth = PathState{
		LatDeg: cfg.Path.CenterLatDeg,
		LonDeg: cfg.Path.CenterLonDeg,
		AltM:   cfg.Path.BaseAltM,
	}
	s.lastGood = telemetry.Position{Latitude: s.truth.LatDeg, Longitude: s.truth.LonDeg, Altitude: s.truth.AltM}
	return s
}

// Tick advances the ground track by one step, updates signal quality and
// returns a fresh sample.
func (s *PositioningSim) Tick() telemetry.PositioningSample {
	s.updates++
	s.truth = s.path.At(s.updates)
	s.updateSignalQuality()

	if s.satellites >= 4 && s.hdop < 5 {
		s.lastGood = telemetry.Position{Latitude: s.truth.LatDeg, Longitude: s.truth.LonDeg, Altitude: s.truth.AltM}
	}
	return s.Sample()
}

func (s *PositioningSim) updateSignalQuality() {
	if s.updates%qualityEvery == 0 {
		s.hdop = clamp(s.hdop+uniform(s.rng, -0.3, 0.3), hdopMin, hdopMax)
		switch {
		case s.hdop < 2:
			s.satellites = 10 + s.rng.IntN(5)
		case s.hdop < 4:
			s.satellites = 6 + s.rng.IntN(4)
		default:
			s.satellites = 4 + s.rng.IntN(3)
		}
	}
	// Geometry slowly improves between jumps.
	if s.hdop > 1.5 {
		s.hdop -= 0.01
	}
}

// Sample returns a freshly noised reading of the current ground truth
// without advancing it.
func (s *PositioningSim) Sample() telemetry.PositioningSample {
	std := s.hdop * s.noiseStd
	latNoise := normal(s.rng, std) / metersPerDegLat
	lonNoise := normal(s.rng, std) / (metersPerDegLat * math.Cos(telemetry.Radians(s.truth.LatDeg)))
	altNoise := normal(s.rng, std) * 1.5

	return telemetry.PositioningSample{
		Timestamp:  s.clock.Now().UTC(),
		Latitude:   s.truth.LatDeg + latNoise,
		Longitude:  s.truth.LonDeg + lonNoise,
		Altitude:   s.truth.AltM + altNoise,
		Speed:      s.truth.SpeedMps,
		Heading:    headingDeg(s.truth.HeadingRad),
		HDOP:       s.hdop,
		Satellites: s.satellites,
		Health:     s.health(),
	}
}

func (s *PositioningSim) health() float64 {
	sat := math.Min(1, float64(s.satellites)/12)
	dop := 1.0
	if s.hdop > 0 {
		dop = math.Min(1, 3/s.hdop)
	}
	return 0.6*sat + 0.4*dop
}

// InjectFault applies f. SignalLoss and PoorAccuracy persist until
// ResetFaults or the next quality jump; PositionJump displaces the current
// truth until the next Tick.
func (s *PositioningSim) InjectFault(f PositioningFault) {
	switch f {
	case SignalLoss:
		s.satellites = 2
		s.hdop = 15
	case PoorAccuracy:
		s.hdop = 8
		s.satellites = 4
		s.noiseStd = 15
	case PositionJump:
		s.truth.LatDeg += uniform(s.rng, -0.001, 0.001)
		s.truth.LonDeg += uniform(s.rng, -0.001, 0.001)
	}
}

func (s *PositioningSim) ResetFaults() {
	s.hdop = nominalHDOP
	s.satellites = nominalSatellites
	s.noiseStd = DefaultPositionNoiseStd
}

func (s *PositioningSim) Period() time.Duration { return s.period }

// Quality reports HDOP, satellites in view and the per-axis noise scale.
func (s *PositioningSim) Quality() (hdop float64, satellites int, noiseStd float64) {
	return s.hdop, s.satellites, s.noiseStd
}

func (s *PositioningSim) TruePosition() telemetry.Position {
	return telemetry.Position{Latitude: s.truth.LatDeg, Longitude: s.truth.LonDeg, Altitude: s.truth.AltM}
}

// TrueVelocity returns north, east and vertical velocity in m/s.
func (s *PositioningSim) TrueVelocity() geo.Vector3 {
	return geo.Vector3{
		X: s.truth.SpeedMps * math.Cos(s.truth.HeadingRad),
		Y: s.truth.SpeedMps * math.Sin(s.truth.HeadingRad),
		Z: s.truth.VerticalMps,
	}
}

// LastGoodPosition is the most recent truth observed with a usable fix
// (at least 4 satellites and HDOP below 5).
func (s *PositioningSim) LastGoodPosition() telemetry.Position {
	return s.lastGood
}

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
	gravity = 9.81

	DefaultInertialPeriod = 20 * time.Millisecond
	DefaultAccelNoiseStd  = 0.05
	DefaultGyroNoiseStd   = 0.005

	highNoiseAccelStd = 0.5
	highNoiseGyroStd  = 0.05

	initialGyroBias = 0.001
	gyroBiasWalkStd = 1e-4
	gyroBiasLimit   = 0.01

	accelSpikeLimit = 20.0
	gyroSpikeLimit  = 5.0

	// Every degradedHealthEvery ticks the reported health dips.
	degradedHealthEvery = 500
)

type InertialConfig struct {
	// Period is the nominal tick spacing used to advance ground truth.
	Period time.Duration
	// Clock stamps samples. Nil means the wall clock.
	Clock timeutil.Clock
}

// InertialSim produces accelerometer and gyroscope samples for a body moving
// through a smooth, bounded rotation and translation profile.
type InertialSim struct {
	period time.Duration
	clock  timeutil.Clock
	rng    *rand.Rand

	tick uint64

	// Ground truth.
	roll, pitch, yaw float64
	angularVelocity  geo.Vector3
	linearAccel      geo.Vector3

	gyroBias      geo.Vector3
	accelNoiseStd float64
	gyroNoiseStd  float64

	pendingAccel *geo.Vector3
	pendingGyro  *geo.Vector3
}

func NewInertialSim(cfg InertialConfig, rng *rand.Rand) *InertialSim {
	if cfg.Period <= 0 {
		cfg.Period = DefaultInertialPeriod
	}
	if rng == nil {
		rng = NewRand(0)
	}
	return &InertialSim{
		period:        cfg.Period,
		clock:         timeutil.OrReal(cfg.Clock),
		rng:           rng,
		gyroBias:      geo.Vector3{X: initialGyroBias, Y: initialGyroBias, Z: initialGyroBias},
		accelNoiseStd: DefaultAccelNoiseStd,
		gyroNoiseStd:  DefaultGyroNoiseStd,
	}
}

// Tick advances ground truth by one period and returns a measured sample.
func (s *InertialSim) Tick() telemetry.InertialSample {
	s.tick++
	s.advanceMotion()

	g := s.gravityInBody()
	accelNoise := geo.Vector3{
		X: normal(s.rng, s.accelNoiseStd),
		Y: normal(s.rng, s.accelNoiseStd),
		Z: normal(s.rng, s.accelNoiseStd),
	}
	accel := s.linearAccel.Add(g).Add(accelNoise)

	gyroNoise := geo.Vector3{
		X: normal(s.rng, s.gyroNoiseStd),
		Y: normal(s.rng, s.gyroNoiseStd),
		Z: normal(s.rng, s.gyroNoiseStd),
	}
	gyro := s.angularVelocity.Add(s.gyroBias).Add(gyroNoise)

	s.walkGyroBias()

	noiseLevel := 0.0
	if s.accelNoiseStd > 0 {
		noiseLevel = math.Min(1, accelNoise.Magnitude()/s.accelNoiseStd)
	}

	health := uniform(s.rng, 0.95, 1.0)
	if s.tick%degradedHealthEvery == 0 {
		health = uniform(s.rng, 0.85, 1.0)
	}

	return telemetry.InertialSample{
		Timestamp:    s.clock.Now().UTC(),
		Acceleration: accel,
		Gyroscope:    gyro,
		NoiseLevel:   noiseLevel,
		Health:       health,
	}
}

func (s *InertialSim) advanceMotion() {
	t := float64(s.tick) * s.period.Seconds()
	dt := s.period.Seconds()

	s.angularVelocity = geo.Vector3{
		X: 0.1 * math.Sin(0.3*t),
		Y: 0.08 * math.Cos(0.2*t),
		Z: 0.05 * math.Sin(0.15*t),
	}
	if s.pendingGyro != nil {
		s.angularVelocity = *s.pendingGyro
		s.pendingGyro = nil
	}

	s.roll = wrapAngle(s.roll + s.angularVelocity.X*dt)
	s.pitch = wrapAngle(s.pitch + s.angularVelocity.Y*dt)
	s.yaw = wrapAngle(s.yaw + s.angularVelocity.Z*dt)

	s.linearAccel = geo.Vector3{
		X: 0.5 * math.Sin(0.1*t),
		Y: 0.3 * math.Cos(0.15*t),
		Z: 0.2 * math.Sin(0.05*t),
	}
	if s.pendingAccel != nil {
		s.linearAccel = *s.pendingAccel
		s.pendingAccel = nil
	}
}

func (s *InertialSim) gravityInBody() geo.Vector3 {
	return geo.Vector3{
		X: -gravity * math.Sin(s.pitch),
		Y: gravity * math.Sin(s.roll) * math.Cos(s.pitch),
		Z: gravity * math.Cos(s.roll) * math.Cos(s.pitch),
	}
}

func (s *InertialSim) walkGyroBias() {
	s.gyroBias = geo.Vector3{
		X: clamp(s.gyroBias.X+normal(s.rng, gyroBiasWalkStd), -gyroBiasLimit, gyroBiasLimit),
		Y: clamp(s.gyroBias.Y+normal(s.rng, gyroBiasWalkStd), -gyroBiasLimit, gyroBiasLimit),
		Z: clamp(s.gyroBias.Z+normal(s.rng, gyroBiasWalkStd), -gyroBiasLimit, gyroBiasLimit),
	}
}

// spike draws a vector whose every axis has magnitude in [0.8*limit, limit).
func (s *InertialSim) spike(limit float64) geo.Vector3 {
	axis := func() float64 {
		v := uniform(s.rng, 0.8*limit, limit)
		if s.rng.IntN(2) == 0 {
			v = -v
		}
		return v
	}
	return geo.Vector3{X: axis(), Y: axis(), Z: axis()}
}

// InjectFault applies f. Spikes affect the next Tick only; HighNoise persists
// until ResetFaults.
func (s *InertialSim) InjectFault(f InertialFault) {
	switch f {
	case AccelSpike:
		v := s.spike(accelSpikeLimit)
		s.pendingAccel = &v
	case GyroSpike:
		v := s.spike(gyroSpikeLimit)
		s.pendingGyro = &v
	case HighNoise:
		s.accelNoiseStd = highNoiseAccelStd
		s.gyroNoiseStd = highNoiseGyroStd
	}
}

// ResetFaults restores nominal noise and discards pending spikes. Ground
// truth and gyro bias are left alone.
func (s *InertialSim) ResetFaults() {
	s.accelNoiseStd = DefaultAccelNoiseStd
	s.gyroNoiseStd = DefaultGyroNoiseStd
	s.pendingAccel = nil
	s.pendingGyro = nil
}

// NoiseStd reports the current accelerometer and gyroscope noise levels.
func (s *InertialSim) NoiseStd() (accel, gyro float64) {
	return s.accelNoiseStd, s.gyroNoiseStd
}

// TrueOrientation returns the ground-truth roll, pitch and yaw in radians.
func (s *InertialSim) TrueOrientation() (roll, pitch, yaw float64) {
	return s.roll, s.pitch, s.yaw
}

func (s *InertialSim) Ticks() uint64 { return s.tick }

func (s *InertialSim) Period() time.Duration { return s.period }

// wrapAngle maps a into (-π, π].
func wrapAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return 0
	}
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

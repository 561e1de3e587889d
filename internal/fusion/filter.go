// Package fusion blends inertial and positioning samples into a single
// orientation, position and velocity estimate with a complementary filter.
package fusion

import (
	"math"
	"time"

	"fusion-telemetry/internal/geo"
	"fusion-telemetry/internal/telemetry"
	"fusion-telemetry/internal/timeutil"
)

const (
	DefaultAlpha = 0.98

	// firstStep is the integration step assumed before any elapsed time is known.
	firstStep = 20 * time.Millisecond

	gravity = 9.81

	// Drift learning only runs while the body looks stationary.
	stationaryAccelTol = 0.1  // m/s² from 1 g
	stationaryGyroMax  = 0.02 // rad/s per axis
)

type Config struct {
	// Alpha is the gyro trust in [0,1]; out-of-range values are clamped.
	Alpha float64
	// MaxStep caps the integration step when > 0.
	MaxStep time.Duration
	// DriftGain is the per-update gain used to learn gyro bias while
	// stationary. Zero disables learning.
	DriftGain float64
	Clock     timeutil.Clock
}

// Filter is a complementary filter. It is not safe for concurrent use.
type Filter struct {
	alpha     float64
	maxStep   time.Duration
	driftGain float64
	clock     timeutil.Clock

	orientation geo.Quaternion
	position    telemetry.Position
	velocity    geo.Vector3
	drift       geo.Vector3

	lastUpdate  time.Time
	hasLast     bool
	initialized bool
}

func New(cfg Config) *Filter {
	return &Filter{
		alpha:       telemetry.Clamp01(cfg.Alpha),
		maxStep:     cfg.MaxStep,
		driftGain:   telemetry.Clamp01(cfg.DriftGain),
		clock:       timeutil.OrReal(cfg.Clock),
		orientation: geo.Identity(),
	}
}

func (f *Filter) Alpha() float64 { return f.alpha }

// SetAlpha changes the gyro trust, clamped to [0,1].
func (f *Filter) SetAlpha(alpha float64) {
	f.alpha = telemetry.Clamp01(alpha)
}

// Drift returns the learned gyro bias in rad/s.
func (f *Filter) Drift() geo.Vector3 { return f.drift }

// Update fuses one inertial sample with the latest positioning sample.
func (f *Filter) Update(in telemetry.InertialSample, pos telemetry.PositioningSample) telemetry.FusedEstimate {
	now := f.clock.Now()
	dt := f.step(now)

	if !f.initialized {
		f.position = telemetry.Position{Latitude: pos.Latitude, Longitude: pos.Longitude, Altitude: pos.Altitude}
		f.initialized = true
	} else {
		f.blendPosition(pos)
	}

	gyroQ := f.integrateGyro(in.Gyroscope, dt)
	accelQ := f.tiltFromAccel(in.Acceleration)
	f.orientation = geo.Slerp(accelQ, gyroQ, f.alpha).Normalize()

	f.learnDrift(in)
	f.updateVelocity(in, pos, dt)

	roll, pitch, yaw := f.orientation.Euler()
	return telemetry.FusedEstimate{
		Timestamp:   now.UTC(),
		Orientation: f.orientation,
		EulerDegrees: telemetry.EulerDegrees{
			Roll:  telemetry.Degrees(roll),
			Pitch: telemetry.Degrees(pitch),
			Yaw:   telemetry.Degrees(yaw),
		},
		Position:        f.position,
		Velocity:        f.velocity,
		RawAcceleration: in.Acceleration,
		RawGyroscope:    in.Gyroscope,
		GPSSpeed:        pos.Speed,
		GPSHeading:      pos.Heading,
		Confidence:      Confidence(in, pos),
		SystemHealth:    SystemHealth(in, pos),
	}
}

// step returns the integration step in seconds and records now.
func (f *Filter) step(now time.Time) float64 {
	dt := firstStep
	if f.hasLast {
		dt = now.Sub(f.lastUpdate)
		if dt < 0 {
			dt = 0
		}
		if f.maxStep > 0 && dt > f.maxStep {
			dt = f.maxStep
		}
	}
	f.lastUpdate = now
	f.hasLast = true
	return dt.Seconds()
}

// integrateGyro advances the current orientation by the bias-compensated
// angular rate: q + q⊗[0, ω·dt/2].
func (f *Filter) integrateGyro(gyro geo.Vector3, dt float64) geo.Quaternion {
	w := gyro.Sub(f.drift).Scale(dt / 2)
	dq := geo.Quaternion{X: w.X, Y: w.Y, Z: w.Z}
	q := f.orientation
	return q.Add(q.Mul(dq)).Normalize()
}

// tiltFromAccel treats the accelerometer as a gravity reference for roll and
// pitch. Yaw is unobservable and carried over.
func (f *Filter) tiltFromAccel(accel geo.Vector3) geo.Quaternion {
	a := accel.Normalize()
	roll := math.Atan2(a.Y, a.Z)
	pitch := math.Atan2(-a.X, math.Sqrt(a.Y*a.Y+a.Z*a.Z))
	_, _, yaw := f.orientation.Euler()
	return geo.FromEuler(roll, pitch, yaw)
}

func (f *Filter) blendPosition(pos telemetry.PositioningSample) {
	w := 0.1
	if pos.HDOP < 3 {
		w = 0.3
	}
	f.position = telemetry.Position{
		Latitude:  f.position.Latitude*(1-w) + pos.Latitude*w,
		Longitude: f.position.Longitude*(1-w) + pos.Longitude*w,
		Altitude:  f.position.Altitude*(1-w) + pos.Altitude*w,
	}
}

// updateVelocity favours the positioning track horizontally. The vertical
// axis has no positioning component, so it is an even split with the
// integrated acceleration.
func (f *Filter) updateVelocity(in telemetry.InertialSample, pos telemetry.PositioningSample, dt float64) {
	h := telemetry.Radians(pos.Heading)
	fix := geo.Vector3{X: pos.Speed * math.Cos(h), Y: pos.Speed * math.Sin(h)}
	inertial := in.Acceleration.Scale(dt)

	f.velocity = geo.Vector3{
		X: 0.9*fix.X + 0.1*inertial.X,
		Y: 0.9*fix.Y + 0.1*inertial.Y,
		Z: 0.5*fix.Z + 0.5*inertial.Z,
	}
}

func (f *Filter) learnDrift(in telemetry.InertialSample) {
	if f.driftGain == 0 {
		return
	}
	g := in.Gyroscope
	if math.Abs(in.Acceleration.Magnitude()-gravity) > stationaryAccelTol {
		return
	}
	if math.Abs(g.X) > stationaryGyroMax || math.Abs(g.Y) > stationaryGyroMax || math.Abs(g.Z) > stationaryGyroMax {
		return
	}
	f.drift = f.drift.Add(g.Sub(f.drift).Scale(f.driftGain))
}

// PositioningConfidence maps HDOP to a coarse quality tier.
func PositioningConfidence(hdop float64) float64 {
	switch {
	case hdop < 2:
		return 1.0
	case hdop < 5:
		return 0.7
	default:
		return 0.3
	}
}

// Confidence weights inertial cleanliness 0.6 and positioning quality 0.4.
func Confidence(in telemetry.InertialSample, pos telemetry.PositioningSample) float64 {
	inertial := 1 - telemetry.Clamp01(in.NoiseLevel)
	if math.IsNaN(in.NoiseLevel) {
		inertial = 0
	}
	return telemetry.Clamp01(0.6*inertial + 0.4*PositioningConfidence(pos.HDOP))
}

// SystemHealth is the mean of both sensors' health.
func SystemHealth(in telemetry.InertialSample, pos telemetry.PositioningSample) float64 {
	return telemetry.Clamp01((telemetry.Clamp01(in.Health) + telemetry.Clamp01(pos.Health)) / 2)
}

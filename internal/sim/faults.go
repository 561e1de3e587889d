// Package sim generates synthetic inertial and positioning samples.
//
// Simulators are not safe for concurrent use. The pipeline owns them from a
// single goroutine.
package sim

import (
	"math/rand/v2"
)

// InertialFault is a fault the inertial simulator can be forced into.
type InertialFault int

const (
	AccelSpike InertialFault = iota + 1
	GyroSpike
	HighNoise
)

func (f InertialFault) String() string {
	switch f {
	case AccelSpike:
		return "accel_spike"
	case GyroSpike:
		return "gyro_spike"
	case HighNoise:
		return "high_noise"
	default:
		return "unknown"
	}
}

// PositioningFault is a fault the positioning simulator can be forced into.
type PositioningFault int

const (
	SignalLoss PositioningFault = iota + 1
	PoorAccuracy
	PositionJump
)

func (f PositioningFault) String() string {
	switch f {
	case SignalLoss:
		return "signal_loss"
	case PoorAccuracy:
		return "poor_accuracy"
	case PositionJump:
		return "position_jump"
	default:
		return "unknown"
	}
}

// NewRand returns a deterministic generator for seed. Seed 0 draws a fresh
// seed from the runtime's entropy-seeded source.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// uniform returns a draw from [lo, hi).
func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// normal returns a draw from N(0, std). A non-positive std yields 0.
func normal(rng *rand.Rand, std float64) float64 {
	if !(std > 0) {
		return 0
	}
	return rng.NormFloat64() * std
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

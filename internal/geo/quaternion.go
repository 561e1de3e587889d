package geo

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternion is a rotation in Hamilton convention (W is the scalar part).
// Orientations are kept at unit norm.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// slerpLinearThreshold is the dot product above which Slerp falls back to a
// normalized linear interpolation.
const slerpLinearThreshold = 0.9995

// minNorm is the smallest norm Normalize will divide by.
const minNorm = 1e-6

func Identity() Quaternion {
	return Quaternion{W: 1}
}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{W: n.Real, X: n.Imag, Y: n.Jmag, Z: n.Kmag}
}

func (q Quaternion) Norm() float64 {
	return quat.Abs(q.number())
}

// Normalize returns q at unit norm, or the identity when q is degenerate.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if !(n >= minNorm) || math.IsInf(n, 0) {
		return Identity()
	}
	return fromNumber(quat.Scale(1/n, q.number()))
}

// Mul returns the Hamilton product q ⊗ r.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return fromNumber(quat.Mul(q.number(), r.number()))
}

func (q Quaternion) Add(r Quaternion) Quaternion {
	return fromNumber(quat.Add(q.number(), r.number()))
}

func (q Quaternion) Scale(f float64) Quaternion {
	return fromNumber(quat.Scale(f, q.number()))
}

func (q Quaternion) Dot(r Quaternion) float64 {
	return q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
}

// FromEuler builds an orientation from roll, pitch and yaw in radians
// (aerospace ZYX order).
func FromEuler(roll, pitch, yaw float64) Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)

	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// Euler returns roll, pitch and yaw in radians. Pitch saturates at ±π/2 when
// the quaternion is not quite unit length.
func (q Quaternion) Euler() (roll, pitch, yaw float64) {
	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll = math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw = math.Atan2(sinyCosp, cosyCosp)
	return roll, pitch, yaw
}

// Slerp interpolates from q1 (t=0) to q2 (t=1) along the shortest arc.
func Slerp(q1, q2 Quaternion, t float64) Quaternion {
	dot := q1.Dot(q2)
	if dot < 0 {
		q2 = q2.Scale(-1)
		dot = -dot
	}

	if dot > slerpLinearThreshold {
		return q1.Add(q2.Add(q1.Scale(-1)).Scale(t)).Normalize()
	}

	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta := math.Sin(theta)
	sinTheta0 := math.Sin(theta0)

	s0 := math.Cos(theta) - dot*sinTheta/sinTheta0
	s1 := sinTheta / sinTheta0
	return q1.Scale(s0).Add(q2.Scale(s1))
}

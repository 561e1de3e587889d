// Package geo holds the small amount of 3D math shared by the simulators and
// the fusion filter.
package geo

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vector3 is a plain 3-axis value. Units depend on the caller
// (m/s², rad/s, m/s).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) vec() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

func fromVec(p r3.Vec) Vector3 { return Vector3{X: p.X, Y: p.Y, Z: p.Z} }

func (v Vector3) Magnitude() float64 {
	return r3.Norm(v.vec())
}

// Normalize returns v scaled to unit length. Vectors with no usable
// magnitude (zero, NaN, Inf) normalize to the zero vector.
func (v Vector3) Normalize() Vector3 {
	m := v.Magnitude()
	if m < 1e-12 || math.IsNaN(m) || math.IsInf(m, 0) {
		return Vector3{}
	}
	return fromVec(r3.Scale(1/m, v.vec()))
}

func (v Vector3) Add(o Vector3) Vector3 {
	return fromVec(r3.Add(v.vec(), o.vec()))
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return fromVec(r3.Sub(v.vec(), o.vec()))
}

func (v Vector3) Scale(f float64) Vector3 {
	return fromVec(r3.Scale(f, v.vec()))
}

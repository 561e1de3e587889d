package geo

import (
	"math"
	"testing"
)

func approxEq(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestVector3_NormalizeZeroIsZero(t *testing.T) {
	got := Vector3{}.Normalize()
	if got != (Vector3{}) {
		t.Fatalf("got=%+v want zero", got)
	}
	got = Vector3{X: math.NaN()}.Normalize()
	if got != (Vector3{}) {
		t.Fatalf("NaN input: got=%+v want zero", got)
	}
}

func TestVector3_NormalizeUnit(t *testing.T) {
	v := Vector3{X: 3, Y: 0, Z: 4}
	if m := v.Magnitude(); m != 5 {
		t.Fatalf("magnitude=%v want 5", m)
	}
	n := v.Normalize()
	if !approxEq(n.Magnitude(), 1, 1e-12) {
		t.Fatalf("normalized magnitude=%v", n.Magnitude())
	}
	if !approxEq(n.X, 0.6, 1e-12) || !approxEq(n.Z, 0.8, 1e-12) {
		t.Fatalf("normalized=%+v", n)
	}
}

func TestQuaternion_NormalizeDegenerateIsIdentity(t *testing.T) {
	cases := []Quaternion{
		{},
		{W: 1e-9},
		{W: math.NaN()},
		{W: math.Inf(1), X: 1},
	}
	for _, q := range cases {
		if got := q.Normalize(); got != Identity() {
			t.Fatalf("Normalize(%+v)=%+v want identity", q, got)
		}
	}
}

func TestQuaternion_MulIdentity(t *testing.T) {
	q := FromEuler(0.2, -0.1, 1.3)
	got := Identity().Mul(q)
	if !approxEq(got.Dot(q), 1, 1e-12) {
		t.Fatalf("identity*q=%+v want %+v", got, q)
	}
}

func TestEulerRoundTrip(t *testing.T) {
	cases := []struct {
		name             string
		roll, pitch, yaw float64
	}{
		{name: "zero"},
		{name: "small", roll: 0.1, pitch: -0.2, yaw: 0.3},
		{name: "large", roll: 2.5, pitch: 1.2, yaw: -3.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := FromEuler(tc.roll, tc.pitch, tc.yaw)
			if !approxEq(q.Norm(), 1, 1e-12) {
				t.Fatalf("norm=%v", q.Norm())
			}
			r, p, y := q.Euler()
			if !approxEq(r, tc.roll, 1e-9) || !approxEq(p, tc.pitch, 1e-9) || !approxEq(y, tc.yaw, 1e-9) {
				t.Fatalf("got=(%v,%v,%v) want=(%v,%v,%v)", r, p, y, tc.roll, tc.pitch, tc.yaw)
			}
		})
	}
}

func TestEuler_PitchSaturates(t *testing.T) {
	// Slightly over-unit quaternion pushes the asin argument past 1.
	q := Quaternion{W: 0.7072, Y: 0.7072}
	_, p, _ := q.Euler()
	if p != math.Pi/2 {
		t.Fatalf("pitch=%v want %v", p, math.Pi/2)
	}
}

func TestSlerp_Endpoints(t *testing.T) {
	q1 := FromEuler(0.3, 0.1, 0.2)
	q2 := FromEuler(-0.5, 0.4, 1.2)

	got0 := Slerp(q1, q2, 0)
	if !approxEq(math.Abs(got0.Dot(q1)), 1, 1e-9) {
		t.Fatalf("t=0 got=%+v want %+v", got0, q1)
	}
	got1 := Slerp(q1, q2, 1)
	if !approxEq(math.Abs(got1.Dot(q2)), 1, 1e-9) {
		t.Fatalf("t=1 got=%+v want %+v", got1, q2)
	}
	mid := Slerp(q1, q2, 0.5)
	if !approxEq(mid.Norm(), 1, 1e-9) {
		t.Fatalf("midpoint norm=%v", mid.Norm())
	}
}

func TestSlerp_ShortestPath(t *testing.T) {
	q1 := FromEuler(0.1, 0.2, 0.3)
	q2 := FromEuler(0.4, 0.1, 0.2).Scale(-1)

	got := Slerp(q1, q2, 0.5)
	if got.Dot(q1) < 0 {
		t.Fatalf("slerp took the long arc: %+v", got)
	}
}

func TestSlerp_NearIdenticalFallsBackToLerp(t *testing.T) {
	q1 := Identity()
	q2 := FromEuler(0.01, 0, 0)
	if q1.Dot(q2) <= slerpLinearThreshold {
		t.Fatalf("fixture dot=%v not above threshold", q1.Dot(q2))
	}

	const frac = 0.98
	got := Slerp(q1, q2, frac)

	w := q1.W + frac*(q2.W-q1.W)
	x := q1.X + frac*(q2.X-q1.X)
	y := q1.Y + frac*(q2.Y-q1.Y)
	z := q1.Z + frac*(q2.Z-q1.Z)
	n := math.Sqrt(w*w + x*x + y*y + z*z)
	want := Quaternion{W: w / n, X: x / n, Y: y / n, Z: z / n}

	for _, d := range []float64{got.W - want.W, got.X - want.X, got.Y - want.Y, got.Z - want.Z} {
		if math.Abs(d) > 1e-9 {
			t.Fatalf("got=%+v want=%+v", got, want)
		}
	}
}

package mathx

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

const tol = 1e-9

func TestEulerRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 0},
		{0.3, -0.2, 1.0},
		{-1.2, 0.7, -2.5},
		{0.1, 1.2, 3.0},
	}
	for _, c := range cases {
		q := FromEuler(c[0], c[1], c[2])
		r, p, y := ToEuler(q)
		if math.Abs(r-c[0]) > 1e-9 || math.Abs(p-c[1]) > 1e-9 || math.Abs(y-c[2]) > 1e-9 {
			t.Fatalf("round trip %v -> (%v %v %v)", c, r, p, y)
		}
	}
}

func TestQuatBetweenVectors_RotatesAOntoB(t *testing.T) {
	a := r3.Vector{Z: 1}
	b := r3.Vector{X: 1}
	q := QuatBetweenVectors(a, b)
	got := RotateVector(q, a)
	if math.Abs(got.X-1) > 1e-9 || math.Abs(got.Y) > 1e-9 || math.Abs(got.Z) > 1e-9 {
		t.Fatalf("rotated a = %v, want (1 0 0)", got)
	}
}

func TestQuatBetweenVectors_AntipodalStaysFinite(t *testing.T) {
	a := r3.Vector{Z: 1}
	b := r3.Vector{Z: -1}
	q := QuatBetweenVectors(a, b)
	for _, v := range []float64{q.W, q.X, q.Y, q.Z} {
		if !IsFinite(v) {
			t.Fatalf("non-finite quaternion %v", q)
		}
	}
	if math.Abs(q.W) > 1e-9 {
		t.Fatalf("antipodal rotation should be 180 degrees, got w=%v", q.W)
	}
	got := RotateVector(q, a)
	if math.Abs(got.Z+1) > 1e-9 {
		t.Fatalf("rotated a = %v, want (0 0 -1)", got)
	}
}

func TestDcmZ_MatchesRotatedZAxis(t *testing.T) {
	q := FromEuler(0.3, -0.2, 1.0)
	want := RotateVector(q, r3.Vector{Z: 1})
	got := DcmZ(q)
	if math.Abs(got.X-want.X) > tol || math.Abs(got.Y-want.Y) > tol || math.Abs(got.Z-want.Z) > tol {
		t.Fatalf("DcmZ=%v want %v", got, want)
	}
}

func TestInverse_UndoesRotation(t *testing.T) {
	q := FromEuler(0.5, 0.4, -0.3)
	v := r3.Vector{X: 0.2, Y: -0.7, Z: 0.4}
	back := RotateVector(Inverse(q), RotateVector(q, v))
	if math.Abs(back.X-v.X) > tol || math.Abs(back.Y-v.Y) > tol || math.Abs(back.Z-v.Z) > tol {
		t.Fatalf("got %v want %v", back, v)
	}
}

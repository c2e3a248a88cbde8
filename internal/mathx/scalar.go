// Package mathx provides the math helpers shared by the attitude and rate
// controllers: scalar shaping functions, quaternion utilities in the
// aerospace roll/pitch/yaw convention, and a fixed-size rotation matrix for
// the sensor mount.
package mathx

import "math"

// Axis indices for per-axis gain and state triples.
const (
	AxisRoll = iota
	AxisPitch
	AxisYaw
	AxisCount
)

// Constrain limits v to the closed interval [lo, hi].
func Constrain(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// SignNoZero returns 1 for v >= 0 and -1 otherwise. Treating zero as
// positive keeps quaternion sign corrections from ever zeroing out a
// rotation.
func SignNoZero(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Expo shapes a unit stick input with a cubic curve. e = 0 is linear,
// e = 1 a pure cubic.
func Expo(value, e float64) float64 {
	x := Constrain(value, -1, 1)
	ec := Constrain(e, 0, 1)
	return (1-ec)*x + ec*x*x*x
}

// SuperExpo applies Expo and then steepens the curve towards full
// deflection. g must stay below 1; it is clamped to 0.99.
func SuperExpo(value, e, g float64) float64 {
	x := Constrain(value, -1, 1)
	gc := Constrain(g, 0, 0.99)
	return Expo(x, e) * (1 - gc) / (1 - math.Abs(x)*gc)
}

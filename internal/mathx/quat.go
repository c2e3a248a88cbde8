package mathx

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

// QuatIdentity returns the unit quaternion for "no rotation".
func QuatIdentity() quaternion.Quaternion {
	return quaternion.Quaternion{W: 1}
}

// Normalize scales q to unit length.
func Normalize(q quaternion.Quaternion) quaternion.Quaternion {
	return q.Unit()
}

// Inverse returns the inverse of a unit quaternion.
func Inverse(q quaternion.Quaternion) quaternion.Quaternion {
	return q.Conj()
}

// Imag returns the vector part of q.
func Imag(q quaternion.Quaternion) r3.Vector {
	return r3.Vector{X: q.X, Y: q.Y, Z: q.Z}
}

// Scale multiplies all four components of q by s.
func Scale(q quaternion.Quaternion, s float64) quaternion.Quaternion {
	return quaternion.Quaternion{W: s * q.W, X: s * q.X, Y: s * q.Y, Z: s * q.Z}
}

// DcmZ returns the last column of the rotation matrix of q: the body z axis
// expressed in the world frame.
func DcmZ(q quaternion.Quaternion) r3.Vector {
	return r3.Vector{
		X: 2 * (q.W*q.Y + q.X*q.Z),
		Y: 2 * (q.Y*q.Z - q.W*q.X),
		Z: q.W*q.W - q.X*q.X - q.Y*q.Y + q.Z*q.Z,
	}
}

// RotateVector rotates v by q.
func RotateVector(q quaternion.Quaternion, v r3.Vector) r3.Vector {
	p := quaternion.Prod(q, quaternion.Quaternion{X: v.X, Y: v.Y, Z: v.Z}, q.Conj())
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// QuatBetweenVectors returns the shortest rotation taking a onto b.
//
// When a and b are (nearly) antipodal the rotation axis is ambiguous and the
// half-way construction collapses. In that case pick the coordinate axis
// along which a is smallest, rotate 180 degrees about the component of that
// axis orthogonal to a, and the result stays finite.
func QuatBetweenVectors(a, b r3.Vector) quaternion.Quaternion {
	const eps = 1e-5

	cr := a.Cross(b)
	dot := a.Dot(b)
	var w float64

	if cr.Norm() < eps && dot < 0 {
		abs := r3.Vector{X: math.Abs(a.X), Y: math.Abs(a.Y), Z: math.Abs(a.Z)}
		var axis r3.Vector
		if abs.X < abs.Y {
			if abs.X < abs.Z {
				axis = r3.Vector{X: 1}
			} else {
				axis = r3.Vector{Z: 1}
			}
		} else {
			if abs.Y < abs.Z {
				axis = r3.Vector{Y: 1}
			} else {
				axis = r3.Vector{Z: 1}
			}
		}
		w = 0
		cr = a.Cross(axis)
	} else {
		w = dot + math.Sqrt(a.Norm2()*b.Norm2())
	}

	return quaternion.Quaternion{W: w, X: cr.X, Y: cr.Y, Z: cr.Z}.Unit()
}

// FromEuler builds the quaternion for aerospace roll/pitch/yaw angles
// (rotation order yaw, then pitch, then roll).
func FromEuler(roll, pitch, yaw float64) quaternion.Quaternion {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return quaternion.Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// ToEuler returns the roll/pitch/yaw angles of q. Near the pitch
// singularity roll is folded into yaw.
func ToEuler(q quaternion.Quaternion) (roll, pitch, yaw float64) {
	r20 := 2 * (q.X*q.Z - q.W*q.Y)
	r21 := 2 * (q.W*q.X + q.Y*q.Z)
	r22 := q.W*q.W - q.X*q.X - q.Y*q.Y + q.Z*q.Z
	r10 := 2 * (q.X*q.Y + q.W*q.Z)
	r00 := q.W*q.W + q.X*q.X - q.Y*q.Y - q.Z*q.Z

	r02 := 2 * (q.W*q.Y + q.X*q.Z)
	r12 := 2 * (q.Y*q.Z - q.W*q.X)

	pitch = math.Asin(Constrain(-r20, -1, 1))

	switch {
	case math.Abs(pitch-math.Pi/2) < 1e-3:
		roll = 0
		yaw = math.Atan2(r12, r02)
	case math.Abs(pitch+math.Pi/2) < 1e-3:
		roll = 0
		yaw = math.Atan2(-r12, -r02)
	default:
		roll = math.Atan2(r21, r22)
		yaw = math.Atan2(r10, r00)
	}
	return roll, pitch, yaw
}

// Array unpacks v into an axis-indexed triple.
func Array(v r3.Vector) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}

// Vector packs an axis-indexed triple into a vector.
func Vector(a [3]float64) r3.Vector {
	return r3.Vector{X: a[0], Y: a[1], Z: a[2]}
}

package mathx

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Mat3 is a row-major 3x3 rotation matrix.
type Mat3 [3][3]float64

// IdentityMat3 returns the identity rotation.
func IdentityMat3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec applies the rotation to v.
func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns the composition m * n.
func (m Mat3) Mul(n Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * n[k][j]
			}
		}
	}
	return out
}

// DcmFromEuler builds the body-to-world rotation matrix for roll/pitch/yaw.
func DcmFromEuler(roll, pitch, yaw float64) Mat3 {
	cr, sr := math.Cos(roll), math.Sin(roll)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	return Mat3{
		{cp * cy, -cr*sy + sr*sp*cy, sr*sy + cr*sp*cy},
		{cp * sy, cr*cy + sr*sp*sy, -sr*cy + cr*sp*sy},
		{-sp, sr * cp, cr * cp},
	}
}

// Rotation names a coarse sensor mount orientation.
type Rotation string

// Mount orientations supported for the gyro board.
const (
	RotationNone          Rotation = "none"
	RotationYaw90         Rotation = "yaw_90"
	RotationYaw180        Rotation = "yaw_180"
	RotationYaw270        Rotation = "yaw_270"
	RotationRoll180       Rotation = "roll_180"
	RotationRoll180Yaw90  Rotation = "roll_180_yaw_90"
	RotationRoll180Yaw270 Rotation = "roll_180_yaw_270"
	RotationPitch180      Rotation = "pitch_180"
)

// Dcm returns the rotation matrix for the named mount orientation.
func (r Rotation) Dcm() (Mat3, error) {
	switch r {
	case RotationNone, "":
		return IdentityMat3(), nil
	case RotationYaw90:
		return DcmFromEuler(0, 0, math.Pi/2), nil
	case RotationYaw180:
		return DcmFromEuler(0, 0, math.Pi), nil
	case RotationYaw270:
		return DcmFromEuler(0, 0, 3*math.Pi/2), nil
	case RotationRoll180:
		return DcmFromEuler(math.Pi, 0, 0), nil
	case RotationRoll180Yaw90:
		return DcmFromEuler(math.Pi, 0, math.Pi/2), nil
	case RotationRoll180Yaw270:
		return DcmFromEuler(math.Pi, 0, 3*math.Pi/2), nil
	case RotationPitch180:
		return DcmFromEuler(0, math.Pi, 0), nil
	}
	return Mat3{}, fmt.Errorf("mathx: unknown rotation %q", string(r))
}

// BoardRotation composes the coarse mount rotation with a fine Euler offset
// given in degrees, offset applied after the coarse rotation.
func BoardRotation(coarse Rotation, offRollDeg, offPitchDeg, offYawDeg float64) (Mat3, error) {
	m, err := coarse.Dcm()
	if err != nil {
		return Mat3{}, err
	}
	off := DcmFromEuler(Radians(offRollDeg), Radians(offPitchDeg), Radians(offYawDeg))
	return off.Mul(m), nil
}

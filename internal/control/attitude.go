package control

import (
	"math"

	"github.com/westphae/quaternion"

	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// AttitudeInput is everything one attitude iteration reads.
type AttitudeInput struct {
	Q      quaternion.Quaternion
	SP     msg.AttitudeSetpoint
	Mode   msg.ControlMode
	Status msg.VehicleStatus
}

// RefState records the reference trajectory view of one iteration for the
// disturbance estimator and for logging. Angles are Euler roll/pitch/yaw.
type RefState struct {
	AttitudeRef [3]float64
	AttitudeNow [3]float64
	AccelRef    [3]float64
	JerkRef     [3]float64
	ErrAttitude [3]float64

	Elapsed      float64
	ElapsedValid bool
}

// AttitudeOutput is the result of one attitude iteration.
type AttitudeOutput struct {
	RatesSp  [3]float64
	ThrustSp float64

	// ZeroYawIntegral asks the rate loop to drop its yaw integrator,
	// set while a weather-vaning VTOL owns the yaw axis.
	ZeroYawIntegral bool

	Refs RefState
}

// AttitudeController implements the quaternion attitude law after
// Brescianini, Hehn and D'Andrea: a reduced attitude aligns the thrust
// axis first, then the remaining yaw error is blended in with a weight
// derived from the gain ratio.
type AttitudeController struct {
	gains Gains
}

// NewAttitudeController returns a controller using the given gains.
func NewAttitudeController(g Gains) *AttitudeController {
	return &AttitudeController{gains: g}
}

// SetGains swaps the gain snapshot.
func (c *AttitudeController) SetGains(g Gains) {
	c.gains = g
}

// Run turns an attitude setpoint into a body rate setpoint.
func (c *AttitudeController) Run(in AttitudeInput) AttitudeOutput {
	g := &c.gains

	// Yaw weight from the ratio between roll/pitch and yaw gains.
	attitudeGain := g.AttitudeP
	rollPitchGain := (attitudeGain[0] + attitudeGain[1]) / 2
	yawW := mathx.Constrain(attitudeGain[2]/rollPitchGain, 0, 1)
	attitudeGain[2] = rollPitchGain

	q := in.Q
	qd := in.SP.QD

	var out AttitudeOutput
	out.ThrustSp = in.SP.Thrust

	var refs RefState
	refs.AttitudeRef[0], refs.AttitudeRef[1], refs.AttitudeRef[2] = mathx.ToEuler(qd)
	refs.AttitudeNow[0], refs.AttitudeNow[1], refs.AttitudeNow[2] = mathx.ToEuler(q)
	if in.SP.Ref.Valid {
		refs.AccelRef = in.SP.Ref.Accel
		refs.JerkRef = in.SP.Ref.Jerk
		refs.Elapsed = in.SP.Ref.Elapsed
		refs.ElapsedValid = true
	}

	// Ensure the quaternions are exactly normalized because
	// acos(1.00001) is NaN.
	q = mathx.Normalize(q)
	qd = mathx.Normalize(qd)

	// Reduced desired attitude: neglect yaw to prioritize roll and pitch.
	eZ := mathx.DcmZ(q)
	eZD := mathx.DcmZ(qd)
	qdRed := mathx.QuatBetweenVectors(eZ, eZD)

	if math.Abs(qdRed.X) > 1-1e-5 || math.Abs(qdRed.Y) > 1-1e-5 {
		// The current and desired thrust axes point in opposite
		// directions. Full attitude control generates no yaw input
		// here and still converges, so skip the reduced attitude.
		qdRed = qd
	} else {
		// Transform the thrust axis rotation into a world frame
		// reduced desired attitude.
		qdRed = quaternion.Prod(qdRed, q)
	}

	// Mix full and reduced desired attitude.
	qMix := quaternion.Prod(mathx.Inverse(qdRed), qd)
	qMix = mathx.Scale(qMix, mathx.SignNoZero(qMix.W))
	// Catch numerical problems with the domain of acos and asin.
	w := mathx.Constrain(qMix.W, -1, 1)
	z := mathx.Constrain(qMix.Z, -1, 1)
	qd = quaternion.Prod(qdRed, quaternion.Quaternion{
		W: math.Cos(yawW * math.Acos(w)),
		Z: math.Sin(yawW * math.Asin(z)),
	})

	// qe is the rotation from q to qd. The attitude error is the
	// sin(alpha/2) scaled rotation axis, with the antipodal ambiguity
	// resolved toward the shorter path.
	qe := quaternion.Prod(mathx.Inverse(q), qd)
	eq := mathx.Imag(qe).Mul(2 * mathx.SignNoZero(qe.W))

	ratesSp := [3]float64{
		eq.X * attitudeGain[0],
		eq.Y * attitudeGain[1],
		eq.Z * attitudeGain[2],
	}

	// Feed forward the yaw setpoint rate. It is commanded around the
	// world z axis, so express that axis in the body frame first.
	yawFF := mathx.DcmZ(mathx.Inverse(q)).Mul(in.SP.YawSpMoveRate * g.YawFF)
	ratesSp[0] += yawFF.X
	ratesSp[1] += yawFF.Y
	ratesSp[2] += yawFF.Z

	autoLimits := (in.Mode.VelocityEnabled || in.Mode.AutoEnabled) && !in.Mode.ManualEnabled
	for i := range ratesSp {
		if autoLimits {
			ratesSp[i] = mathx.Constrain(ratesSp[i], -g.AutoRateMax[i], g.AutoRateMax[i])
		} else {
			ratesSp[i] = mathx.Constrain(ratesSp[i], -g.MCRateMax[i], g.MCRateMax[i])
		}
	}

	// VTOL weather-vane mode, dampen yaw rate.
	if in.Status.IsVTOL && in.SP.DisableYawControl {
		if in.Mode.VelocityEnabled || in.Mode.AutoEnabled {
			wvMax := g.AutoRateMax[2] * g.WeathervaneYawRateScale
			ratesSp[2] = mathx.Constrain(ratesSp[2], -wvMax, wvMax)
			out.ZeroYawIntegral = true
		}
	}

	// On the test stand the estimator laws track the supplied reference
	// rate directly instead of the quaternion loop output.
	if in.SP.Ref.Valid && g.Variant != VariantPID {
		ratesSp = in.SP.Ref.Rate
	}

	for i := range refs.ErrAttitude {
		refs.ErrAttitude[i] = refs.AttitudeRef[i] - refs.AttitudeNow[i]
	}

	out.RatesSp = ratesSp
	out.Refs = refs
	return out
}

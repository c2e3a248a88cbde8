package sim

import (
	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"

	"github.com/JingyongXue/Firmware-MUDE/internal/control"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
)

// Plant is a rigid body on the test stand: diagonal inertia, a first
// order lag between torque command and produced torque, and forward
// Euler integration of the attitude quaternion. The lag uses the same
// constant the motor-compensating estimator models, so the estimator
// sees the dynamics it was derived for. The stand holds position, so
// there are no translational states.
type Plant struct {
	// Inertia is the diagonal of the inertia tensor in kg m^2,
	// ordered roll, pitch, yaw.
	Inertia [3]float64

	// TorqueGain converts a normalized actuator command into N m.
	TorqueGain float64

	// MotorTau is the command-to-torque lag time constant in seconds.
	MotorTau float64

	q      quaternion.Quaternion
	rates  [3]float64
	torque [3]float64
}

// NewPlant returns a level, motionless plant with the identified
// airframe inertia and motor lag.
func NewPlant() *Plant {
	return &Plant{
		Inertia:    control.InertiaDiag(),
		TorqueGain: 1,
		MotorTau:   control.MotorAlpha,
		q:          mathx.QuatIdentity(),
	}
}

// Step advances the body by dt under the given normalized torque
// commands, ordered roll, pitch, yaw.
func (p *Plant) Step(cmd [3]float64, dt float64) {
	// Motor lag, then Euler's equations with the gyroscopic term.
	// The cross term vanishes on a single-axis stand but costs
	// nothing to carry.
	iw := r3.Vector{
		X: p.Inertia[0] * p.rates[0],
		Y: p.Inertia[1] * p.rates[1],
		Z: p.Inertia[2] * p.rates[2],
	}
	gyro := mathx.Vector(p.rates).Cross(iw)
	cross := mathx.Array(gyro)

	for i := range p.torque {
		p.torque[i] += dt * (p.TorqueGain*cmd[i] - p.torque[i]) / p.MotorTau
		p.rates[i] += dt * (p.torque[i] - cross[i]) / p.Inertia[i]
	}

	// qdot = q/2 * (0, omega_body)
	w := quaternion.Quaternion{X: p.rates[0], Y: p.rates[1], Z: p.rates[2]}
	qdot := mathx.Scale(quaternion.Prod(p.q, w), 0.5)
	p.q = mathx.Normalize(quaternion.Quaternion{
		W: p.q.W + dt*qdot.W,
		X: p.q.X + dt*qdot.X,
		Y: p.q.Y + dt*qdot.Y,
		Z: p.q.Z + dt*qdot.Z,
	})
}

// Rates returns the body angular rates in rad/s.
func (p *Plant) Rates() r3.Vector { return mathx.Vector(p.rates) }

// Attitude returns the attitude quaternion.
func (p *Plant) Attitude() quaternion.Quaternion { return p.q }

// Euler returns the attitude as roll, pitch, yaw in radians.
func (p *Plant) Euler() (roll, pitch, yaw float64) { return mathx.ToEuler(p.q) }

package control

import (
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// Geometry coefficients of the bench quadrotor: moment arms for roll/pitch
// and yaw per newton of rotor thrust, and the collective weight.
const (
	mixArmRollPitch = 2.143
	mixArmYaw       = 14.27
	mixThrustWeight = 0.25
	mixBackWeight   = 0.354
)

// ThrottleToThrust maps normalized throttle to rotor thrust in newtons
// using the identified quartic fit of the bench motors. Throttle is clamped
// to [0, 1].
func ThrottleToThrust(throttle float64) float64 {
	t := mathx.Constrain(throttle, 0, 1)
	return 2.052*t*t*t*t - 11.11*t*t*t + 15.65*t*t + 0.7379*t + 0.02543
}

// ThrustToThrottle maps rotor thrust in newtons back to normalized
// throttle, the inverse fit of ThrottleToThrust. Thrust is clamped to
// [0, 7].
func ThrustToThrottle(thrust float64) float64 {
	f := mathx.Constrain(thrust, 0, 7)
	return -0.0006892*f*f*f*f + 0.01271*f*f*f - 0.07948*f*f + 0.3052*f + 0.008775
}

// Mix distributes a normalized torque and throttle demand over the four
// rotors through the thrust curves. The demand is converted to per-rotor
// thrust, each thrust to the throttle that produces it, and the throttles
// mixed back into a normalized frame so the downstream output mixer sees a
// linearized plant.
func Mix(roll, pitch, yaw, throttle float64) msg.MixerStatus {
	var m msg.MixerStatus
	m.InputRoll = roll
	m.InputPitch = pitch
	m.InputYaw = yaw
	m.InputThrust = throttle

	thrust := 4 * ThrottleToThrust(throttle)

	a := mixArmRollPitch
	b := mixArmYaw
	c := mixThrustWeight

	m.MotorThrust[0] = -a*roll + a*pitch + b*yaw + c*thrust
	m.MotorThrust[1] = a*roll - a*pitch + b*yaw + c*thrust
	m.MotorThrust[2] = a*roll + a*pitch - b*yaw + c*thrust
	m.MotorThrust[3] = -a*roll - a*pitch - b*yaw + c*thrust

	for i, f := range m.MotorThrust {
		m.MotorThrottle[i] = ThrustToThrottle(f)
	}

	d := mixBackWeight
	t := m.MotorThrottle
	m.OutputRoll = -d*t[0] + d*t[1] + d*t[2] - d*t[3]
	m.OutputPitch = d*t[0] - d*t[1] + d*t[2] - d*t[3]
	m.OutputYaw = c * (t[0] + t[1] - t[2] - t[3])
	m.OutputThrust = c * (t[0] + t[1] + t[2] + t[3])

	return m
}

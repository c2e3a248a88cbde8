// Package msg defines the message types exchanged on the internal bus.
//
// The layout follows the conventional flight-stack topics (attitude, rate
// setpoints, actuator controls) so bench logs stay easy to correlate with
// vehicle telemetry.
package msg

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/westphae/quaternion"
)

// GyroSample is one angular rate measurement from the active gyro, in the
// sensor frame. It is the wakeup source of the control loop.
type GyroSample struct {
	Rates     r3.Vector // rad/s
	Timestamp time.Time
}

// VehicleAttitude carries the estimated attitude quaternion.
type VehicleAttitude struct {
	Q         quaternion.Quaternion
	Timestamp time.Time
}

// Reference carries the trajectory derivatives a bench reference generator
// supplies alongside an attitude setpoint. Rates here are Euler angle
// rates; on a single-axis stand the distinction from body rates vanishes.
type Reference struct {
	Valid   bool
	Rate    [3]float64 // rad/s
	Accel   [3]float64 // rad/s^2
	Jerk    [3]float64 // rad/s^3
	Elapsed float64    // s since the trajectory began
}

// AttitudeSetpoint is the desired attitude plus collective thrust.
type AttitudeSetpoint struct {
	QD                quaternion.Quaternion
	Thrust            float64 // normalized [0, 1]
	YawSpMoveRate     float64 // rad/s, commanded rotation around world z
	DisableYawControl bool    // weather-vane active, yaw handled upstream
	LandingGear       float64
	Ref               Reference
	Timestamp         time.Time
}

// RateSetpoint is the desired body angular rate plus collective thrust.
type RateSetpoint struct {
	Rates     r3.Vector // rad/s
	Thrust    float64
	Timestamp time.Time
}

// ControlMode carries the mode flags the control loop switches on.
type ControlMode struct {
	Armed              bool
	AttitudeEnabled    bool
	RatesEnabled       bool
	ManualEnabled      bool
	AutoEnabled        bool
	VelocityEnabled    bool
	RattitudeEnabled   bool
	TerminationEnabled bool
	Timestamp          time.Time
}

// ManualControl is the pilot stick state. X is pitch, Y roll, R yaw, each
// in [-1, 1]; Z is throttle in [0, 1].
type ManualControl struct {
	X, Y, Z, R float64
	Timestamp  time.Time
}

// VehicleStatus carries the airframe facts the loop needs.
type VehicleStatus struct {
	IsRotaryWing bool
	IsVTOL       bool
	Timestamp    time.Time
}

// GyroInstances is the number of gyro units the sensor hub distinguishes.
const GyroInstances = 3

// SensorCorrection carries per-instance thermal offsets and scales for the
// gyros plus the instance the sensor hub selected.
type SensorCorrection struct {
	GyroOffset       [GyroInstances]r3.Vector
	GyroScale        [GyroInstances]r3.Vector
	SelectedInstance int
	Timestamp        time.Time
}

// DefaultSensorCorrection returns a correction with unity scales, used until
// the sensor hub publishes real values.
func DefaultSensorCorrection() SensorCorrection {
	var c SensorCorrection
	for i := range c.GyroScale {
		c.GyroScale[i] = r3.Vector{X: 1, Y: 1, Z: 1}
	}
	return c
}

// SensorBias is the in-run gyro bias estimated by the attitude estimator,
// already in the body frame.
type SensorBias struct {
	GyroBias  r3.Vector
	Timestamp time.Time
}

// SaturationStatus reports which axes the output stage could not fully serve
// on the previous cycle, per direction.
type SaturationStatus struct {
	RollPos, RollNeg   bool
	PitchPos, PitchNeg bool
	YawPos, YawNeg     bool
	Timestamp          time.Time
}

// BatteryStatus carries the thrust compensation scale for sagging cells.
// Zero means unknown.
type BatteryStatus struct {
	Scale     float64
	Timestamp time.Time
}

// ActuatorControls is the normalized demand frame handed to the output
// stage. Channels 0..2 are roll/pitch/yaw torque, channel 3 collective
// thrust, channel 7 the landing gear passthrough.
type ActuatorControls struct {
	Control    [8]float64
	Timestamp  time.Time
	SampleTime time.Time // gyro sample that produced this frame
}

// RateControllerStatus reports the rate loop internals for logging.
type RateControllerStatus struct {
	RatesMeasured r3.Vector // rad/s, corrected body rates
	Integral      r3.Vector
	Timestamp     time.Time
}

// UDEStatus reports every intermediate quantity of the disturbance
// estimation laws, one frame per control cycle. Axis order is
// roll/pitch/yaw; the estimator itself only acts on roll and pitch, so yaw
// entries of the estimator fields stay zero.
type UDEStatus struct {
	StartTime float64 // s since the loop started
	InputTime float64 // s since the bench trajectory began

	ThrustSp float64

	AttitudeRef       [3]float64
	AttitudeNow       [3]float64
	AttitudeDotRef    [3]float64
	AttitudeDotRefHPF [3]float64
	AttitudeDdotRef   [3]float64
	AttitudeDddotRef  [3]float64
	AttitudeRateNow   [3]float64

	ErrorAttitude     [3]float64
	ErrorAttitudeRate [3]float64

	Feedforward [3]float64
	ULKp        [3]float64
	ULKd        [3]float64
	ULKm        [3]float64
	UD          [3]float64
	UTotal      [3]float64

	TorqueRef [3]float64
	TorqueEst [3]float64
	F1Est     [3]float64
	F1DotEst  [3]float64
	F2Est     [3]float64
	FEst      [3]float64
	F2        [3]float64

	Timestamp time.Time
}

// MixerStatus reports one pass through the thrust-curve mixer: the demand
// it received, the per-rotor thrusts and throttles it solved for, and the
// normalized frame it mixed back.
type MixerStatus struct {
	InputRoll   float64
	InputPitch  float64
	InputYaw    float64
	InputThrust float64

	MotorThrust   [4]float64 // N
	MotorThrottle [4]float64 // normalized [0, 1]

	OutputRoll   float64
	OutputPitch  float64
	OutputYaw    float64
	OutputThrust float64

	Timestamp time.Time
}

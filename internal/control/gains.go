// Package control implements the attitude and angular rate control laws for
// a quadrotor: a quaternion attitude loop, a cascaded rate PID, three
// uncertainty and disturbance estimator (UDE) laws for roll and pitch, and
// the thrust-curve mixer of the bench airframe.
//
// The controllers are plain state machines driven by the loop package. None
// of the types are safe for concurrent use.
package control

import (
	"fmt"
	"math"

	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
)

// Bench airframe constants from system identification of the test quadrotor.
const (
	// MotorAlpha is the identified first order motor time constant in
	// seconds. It also sets the time constant of the delayed low-pass
	// tracking the applied torque.
	MotorAlpha = 0.04

	// MinTakeoffThrust gates every integrator. Below this thrust the
	// vehicle is taken to be on the ground and integration would only
	// wind up against friction.
	MinTakeoffThrust = 0.1

	// udeIntegralLimit bounds the uncertainty integrals and the
	// estimated disturbance compensation.
	udeIntegralLimit = 1.0

	// tpaRateLowerLimit is the floor of the throttle PID attenuation.
	tpaRateLowerLimit = 0.05

	// initialLoopRateHz seeds the D-term filters until the measured
	// loop rate is known.
	initialLoopRateHz = 250.0
)

// InertiaDiag returns the diagonal of the identified airframe inertia
// tensor in kg m^2, ordered roll, pitch, yaw.
func InertiaDiag() [3]float64 {
	return [3]float64{0.01, 0.01, 0.015}
}

// Variant selects which law produces the roll and pitch torques. Yaw is
// always closed by the rate PID.
type Variant int

const (
	// VariantPID runs the stock cascaded PID on all three axes.
	VariantPID Variant = iota

	// VariantPDUDE runs a PD law with a first order UDE disturbance
	// compensator on roll and pitch.
	VariantPDUDE

	// VariantCascadeUDE keeps the attitude P loop and replaces the rate
	// PID with a UDE law on the rate error.
	VariantCascadeUDE

	// VariantMotorUDE extends the PD+UDE law with an estimator that
	// compensates the first order motor dynamics.
	VariantMotorUDE
)

var variantNames = map[Variant]string{
	VariantPID:        "pid",
	VariantPDUDE:      "pd-ude",
	VariantCascadeUDE: "cascade-ude",
	VariantMotorUDE:   "motor-ude",
}

func (v Variant) String() string {
	if s, ok := variantNames[v]; ok {
		return s
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// ParseVariant maps a config name to a Variant.
func ParseVariant(s string) (Variant, error) {
	for v, name := range variantNames {
		if s == name {
			return v, nil
		}
	}
	return VariantPID, fmt.Errorf("control: unknown variant %q (want pid, pd-ude, cascade-ude or motor-ude)", s)
}

// Gains is one immutable snapshot of every tuning value the controllers
// read. The loop swaps complete snapshots between iterations so a change
// never lands mid-cycle. Angles are radians, angular rates rad/s.
type Gains struct {
	// Attitude loop.
	AttitudeP [3]float64
	YawFF     float64

	// Rate loop.
	RateP      [3]float64
	RateI      [3]float64
	RateD      [3]float64
	RateFF     [3]float64
	RateIntLim [3]float64

	// Cutoff of the D-term low-pass, Hz.
	DTermCutoffHz float64

	// Throttle PID attenuation, separate curves for P, I and D.
	TPABreakpointP float64
	TPABreakpointI float64
	TPABreakpointD float64
	TPARateP       float64
	TPARateI       float64
	TPARateD       float64

	// Rate setpoint limits. AutoRateMax applies when position or auto
	// control is flying the vehicle, MCRateMax otherwise.
	MCRateMax   [3]float64
	AutoRateMax [3]float64

	// Acro stick shaping.
	AcroRateMax      [3]float64
	AcroExpoRP       float64
	AcroExpoYaw      float64
	AcroSuperExpoRP  float64
	AcroSuperExpoYaw float64

	// Stick deflection above which rattitude mode falls back to pure
	// rate control.
	RattitudeThreshold float64

	// Yaw rate limit scale while a VTOL tailsitter weather-vanes.
	WeathervaneYawRateScale float64

	// Scale actuator demand by the battery compensation factor.
	BatteryScaleEnabled bool

	// UDE tuning, shared by all axes the estimator acts on.
	KpUDE float64
	KdUDE float64
	KmUDE float64
	TUDE  float64

	// Filter time constants: TFilterUDE for the reference-rate
	// high-pass, TF for the first order disturbance filters, TF1/TF2
	// for the second order ones, TTorque for the motor torque model.
	TFilterUDE float64
	TF         float64
	TF1        float64
	TF2        float64
	TTorque    float64

	// Law selection.
	Variant        Variant
	RefRateFromHPF bool // PD law tracks the filtered reference rate
	UseMixer       bool // route torque demand through the thrust-curve mixer
	BenchMode      bool // single-axis test stand: roll and yaw outputs forced to zero

	// Rotation from the sensor frame to the body frame.
	BoardRotation mathx.Mat3
}

// pidAttenuation returns the per-axis throttle PID attenuation. Yaw is
// never attenuated. A breakpoint at full throttle disables the curve.
func pidAttenuation(breakpoint, rate, thrust float64) [3]float64 {
	tpa := 1.0
	if breakpoint < 1 {
		tpa = 1 - rate*(math.Abs(thrust)-breakpoint)/(1-breakpoint)
		tpa = mathx.Constrain(tpa, tpaRateLowerLimit, 1)
	}
	return [3]float64{tpa, tpa, 1}
}

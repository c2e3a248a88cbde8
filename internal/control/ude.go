package control

import (
	"time"

	"github.com/JingyongXue/Firmware-MUDE/internal/filter"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// UDE implements the uncertainty and disturbance estimator laws for roll
// and pitch. The estimator treats everything the nominal inertia model does
// not explain as a lumped disturbance, recovers it through low-pass
// filtering, and cancels it in the torque demand. Yaw always comes from the
// rate PID.
//
// The type doubles as the status record: every intermediate quantity of a
// cycle is kept for the telemetry topic, and the motor-dynamics law reads
// its own previous outputs back from there.
type UDE struct {
	gains Gains

	integral [2]float64

	// Filter bank for the motor-dynamics law. Time constants are fixed
	// at construction; retuning mid-flight would transient the
	// disturbance estimates.
	lpfDelay [2]*filter.DelayedLowPass
	lpf      [2]*filter.LowPass
	hpf      [2]*filter.HighPass
	hpf2     [2]*filter.SecondOrderHighPass
	bpf      [2]*filter.BandPass

	// Previous reference samples for the reference-rate high-pass of
	// the PD law.
	attSpLast    [2]float64
	attDotSpLast [2]float64

	status msg.UDEStatus
}

// NewUDE returns an estimator with its filter bank tuned from g.
func NewUDE(g Gains) *UDE {
	u := &UDE{gains: g}
	for i := 0; i < 2; i++ {
		u.lpfDelay[i] = filter.NewDelayedLowPass(MotorAlpha)
		u.lpf[i] = filter.NewLowPass(g.TF)
		u.hpf[i] = filter.NewHighPass(g.TF)
		u.hpf2[i] = filter.NewSecondOrderHighPass(g.TF1, g.TF2)
		u.bpf[i] = filter.NewBandPass(g.TF1, g.TF2)
	}
	return u
}

// SetGains swaps the gain snapshot. Filter time constants keep their
// construction values.
func (u *UDE) SetGains(g Gains) {
	u.gains = g
}

// Integral returns the uncertainty integrals for roll and pitch.
func (u *UDE) Integral() [2]float64 {
	return u.integral
}

// ResetIntegral clears the uncertainty integrals.
func (u *UDE) ResetIntegral() {
	u.integral = [2]float64{}
}

// BeginCycle applies the per-variant reset rules. It runs before the
// attitude controller, so the thrust it sees is the previous cycle's: the
// motor-dynamics law resets its estimator outputs as long as the vehicle
// had not reached takeoff thrust.
func (u *UDE) BeginCycle(armed, rotaryWing bool) {
	switch u.gains.Variant {
	case VariantPDUDE, VariantCascadeUDE:
		if !armed || !rotaryWing {
			u.integral = [2]float64{}
		}
	case VariantMotorUDE:
		if u.status.ThrustSp < MinTakeoffThrust || !armed || !rotaryWing {
			u.integral = [2]float64{}
			u.status.TorqueEst = [3]float64{}
			u.status.F1Est = [3]float64{}
			u.status.F1DotEst = [3]float64{}
			u.status.F2Est = [3]float64{}
			u.status.FEst = [3]float64{}
		}
	}
}

// ObserveAttitude records the reference view of the attitude iteration that
// just ran. The rate setpoint doubles as the reference attitude rate.
func (u *UDE) ObserveAttitude(out AttitudeOutput) {
	s := &u.status
	s.ThrustSp = out.ThrustSp
	for i := 0; i < 3; i++ {
		s.AttitudeRef[i] = out.Refs.AttitudeRef[i]
		s.AttitudeDotRef[i] = out.RatesSp[i]
		s.AttitudeDdotRef[i] = out.Refs.AccelRef[i]
		s.AttitudeDddotRef[i] = out.Refs.JerkRef[i]
		s.AttitudeNow[i] = out.Refs.AttitudeNow[i]
		s.ErrorAttitude[i] = out.Refs.ErrAttitude[i]
	}
	if out.Refs.ElapsedValid {
		s.InputTime = out.Refs.Elapsed
	}
}

// ObserveRates records the corrected body rates and the yaw torque of the
// rate iteration that just ran. Yaw passes through to the total demand.
func (u *UDE) ObserveRates(rates [3]float64, yawTorque float64) {
	u.status.AttitudeRateNow = rates
	u.status.UTotal[mathx.AxisYaw] = yawTorque
}

// Run evaluates the selected law and returns the torque demand per axis.
func (u *UDE) Run(dt float64) [3]float64 {
	switch u.gains.Variant {
	case VariantPDUDE:
		u.runPD(dt)
	case VariantCascadeUDE:
		u.runCascade(dt)
	case VariantMotorUDE:
		u.runMotor(dt)
	}
	return u.status.UTotal
}

// ZeroBenchAxes clears the roll and yaw demand. On the single-axis test
// stand only pitch is free to move.
func (u *UDE) ZeroBenchAxes() [3]float64 {
	u.status.UTotal[mathx.AxisRoll] = 0
	u.status.UTotal[mathx.AxisYaw] = 0
	return u.status.UTotal
}

// AdvanceClock advances the status clock by one cycle.
func (u *UDE) AdvanceClock(dt float64) {
	u.status.StartTime += dt
}

// Status returns the status record stamped with now.
func (u *UDE) Status(now time.Time) msg.UDEStatus {
	s := u.status
	s.Timestamp = now
	return s
}

// runCascade closes roll and pitch on the rate error alone: inertia times
// reference acceleration as feed forward, a P term on the rate error, and
// the UDE compensation with its integral driven by the same P term.
func (u *UDE) runCascade(dt float64) {
	g := &u.gains
	s := &u.status
	inertia := InertiaDiag()

	for i := 0; i < 3; i++ {
		s.ErrorAttitudeRate[i] = s.AttitudeDotRef[i] - s.AttitudeRateNow[i]
	}

	for i := 0; i < 2; i++ {
		s.Feedforward[i] = inertia[i] * s.AttitudeDdotRef[i]
		s.ULKp[i] = g.KpUDE * s.ErrorAttitudeRate[i]
		s.UD[i] = inertia[i]/g.TUDE*s.ErrorAttitudeRate[i] + u.integral[i]/g.TUDE
	}

	// Integrate only once there is enough thrust for the props to act.
	if s.ThrustSp > MinTakeoffThrust {
		for i := 0; i < 2; i++ {
			v := u.integral[i] - g.KpUDE*s.ErrorAttitudeRate[i]*dt
			if mathx.IsFinite(v) && v > -udeIntegralLimit && v < udeIntegralLimit {
				u.integral[i] = v
			}
		}
	}

	for i := 0; i < 2; i++ {
		s.UD[i] = mathx.Constrain(s.UD[i], -udeIntegralLimit, udeIntegralLimit)
		s.UTotal[i] = s.Feedforward[i] + s.ULKp[i] - s.UD[i]
	}
}

// runPD closes roll and pitch with PD on the attitude and rate errors plus
// the UDE compensation. The reference rate can come from the trajectory or
// from a first order high-pass of the reference attitude.
func (u *UDE) runPD(dt float64) {
	g := &u.gains
	s := &u.status
	inertia := InertiaDiag()

	// High-pass the reference attitude to approximate its rate.
	for i := 0; i < 2; i++ {
		v := (g.TFilterUDE*u.attDotSpLast[i] + s.AttitudeRef[i] - u.attSpLast[i]) / (g.TFilterUDE + dt)
		s.AttitudeDotRefHPF[i] = mathx.Constrain(v, -4, 4)
	}
	for i := 0; i < 2; i++ {
		u.attSpLast[i] = s.AttitudeRef[i]
		u.attDotSpLast[i] = s.AttitudeDotRefHPF[i]
	}

	for i := 0; i < 3; i++ {
		if g.RefRateFromHPF {
			s.ErrorAttitudeRate[i] = s.AttitudeDotRefHPF[i] - s.AttitudeRateNow[i]
		} else {
			s.ErrorAttitudeRate[i] = s.AttitudeDotRef[i] - s.AttitudeRateNow[i]
		}
	}

	for i := 0; i < 2; i++ {
		s.Feedforward[i] = inertia[i] * s.AttitudeDdotRef[i]
		s.ULKp[i] = g.KpUDE * s.ErrorAttitude[i]
		s.ULKd[i] = g.KdUDE * s.ErrorAttitudeRate[i]
		s.UD[i] = inertia[i]/g.TUDE*s.ErrorAttitudeRate[i] + u.integral[i]/g.TUDE
	}

	if s.ThrustSp > MinTakeoffThrust {
		for i := 0; i < 2; i++ {
			v := u.integral[i] - dt*(s.Feedforward[i]+g.KpUDE*s.ErrorAttitude[i]+g.KdUDE*s.ErrorAttitudeRate[i])
			if mathx.IsFinite(v) && v > -udeIntegralLimit && v < udeIntegralLimit {
				u.integral[i] = v
			}
		}
	}

	for i := 0; i < 2; i++ {
		s.UD[i] = mathx.Constrain(s.UD[i], -udeIntegralLimit, udeIntegralLimit)
		s.UTotal[i] = s.Feedforward[i] + s.ULKp[i] + s.ULKd[i] - s.UD[i]
	}
}

// runMotor extends the PD law with a model of the first order motor
// dynamics. The previous torque demand, delayed and low-pass filtered,
// stands in for the torque the motors actually produced; the filter bank
// splits the unexplained remainder into a disturbance estimate and its
// rate, and both are cancelled along with the estimated motor lag.
func (u *UDE) runMotor(dt float64) {
	g := &u.gains
	s := &u.status
	inertia := InertiaDiag()

	for i := 0; i < 3; i++ {
		s.ErrorAttitudeRate[i] = s.AttitudeDotRef[i] - s.AttitudeRateNow[i]
	}

	for i := 0; i < 2; i++ {
		s.TorqueRef[i] = inertia[i] * s.AttitudeDdotRef[i]
	}

	// UTotal still holds the previous cycle's demand here.
	s.TorqueEst[0] = u.lpfDelay[0].Update(s.UTotal[0], dt)
	s.TorqueEst[1] = u.lpfDelay[1].Update(s.UTotal[1], dt)

	for i := 0; i < 2; i++ {
		s.F1Est[i] = inertia[i]*u.hpf[i].Update(s.AttitudeRateNow[i], dt) - u.lpf[i].Update(s.TorqueEst[i], dt)
		s.F1DotEst[i] = inertia[i]*u.hpf2[i].Update(s.AttitudeRateNow[i], dt) - u.bpf[i].Update(s.TorqueEst[i], dt)
		s.F2Est[i] = s.TorqueEst[i]/g.TTorque + u.integral[i]/(g.TTorque*MotorAlpha)
		s.FEst[i] = MotorAlpha*s.F2Est[i] + s.F1Est[i] + MotorAlpha*s.F1DotEst[i]
		s.F2[i] = (s.UTotal[i] - u.lpfDelay[i].Delayed()) / MotorAlpha
	}

	for i := 0; i < 2; i++ {
		s.Feedforward[i] = inertia[i] * (s.AttitudeDdotRef[i] + MotorAlpha*s.AttitudeDddotRef[i])
		s.ULKp[i] = g.KpUDE * s.ErrorAttitude[i]
		s.ULKd[i] = g.KdUDE * s.ErrorAttitudeRate[i]
		s.ULKm[i] = g.KmUDE * (s.TorqueRef[i] - s.TorqueEst[i])
		s.UD[i] = g.KmUDE*s.F1Est[i] + s.FEst[i]
	}

	if s.ThrustSp > MinTakeoffThrust {
		for i := 0; i < 2; i++ {
			v := u.integral[i] + dt*(s.TorqueEst[i]-s.Feedforward[i]-s.ULKp[i]-s.ULKd[i]-s.ULKm[i]+
				(g.KmUDE+1)*s.F1Est[i]+MotorAlpha*s.F1DotEst[i])
			if mathx.IsFinite(v) && v > -udeIntegralLimit && v < udeIntegralLimit {
				u.integral[i] = v
			}
		}
	}

	for i := 0; i < 2; i++ {
		s.UTotal[i] = s.Feedforward[i] + s.ULKp[i] + s.ULKd[i] + s.ULKm[i] - s.UD[i]
	}
}

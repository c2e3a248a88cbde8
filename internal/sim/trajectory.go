// Package sim feeds the control bus from a synthetic single-axis test
// stand: a trajectory generator producing pitch references with their
// derivatives, and a small rigid-body plant driven by the published
// actuator frames. Together they let the control loop run closed-loop
// on a desk with no hardware attached.
package sim

import (
	"fmt"
	"math"

	"github.com/JingyongXue/Firmware-MUDE/internal/filter"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
)

// Profile selects one of the built-in bench reference profiles.
type Profile int

const (
	// ProfileHold keeps the reference at level pitch.
	ProfileHold Profile = iota

	// ProfileStep commands 0, +20 and -20 degrees at 5, 15 and 25 s,
	// with the rate reference closed on the measured pitch and the
	// higher derivatives reconstructed by a high-pass chain.
	ProfileStep

	// ProfileSine commands 30 degrees of pitch at 4 rad/s with all
	// derivatives analytic.
	ProfileSine

	// ProfileMulti plays a step sequence, then the sine, then holds.
	ProfileMulti
)

var profileNames = map[Profile]string{
	ProfileHold:  "hold",
	ProfileStep:  "step",
	ProfileSine:  "sine",
	ProfileMulti: "multi",
}

func (p Profile) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return fmt.Sprintf("profile(%d)", int(p))
}

// ParseProfile maps a config name to a Profile.
func ParseProfile(s string) (Profile, error) {
	for p, name := range profileNames {
		if s == name {
			return p, nil
		}
	}
	return ProfileHold, fmt.Errorf("sim: unknown profile %q (want hold, step, sine, multi)", s)
}

// The stand tuning. Angles use the coarse 57.3 deg/rad factor of the
// identified rig, not math.Pi, so the references reproduce the recorded
// bench runs bit for bit.
const (
	// kpAtt closes the step profile's rate reference on measured pitch.
	kpAtt = 4.0

	// omega is the sine profile frequency in rad/s.
	omega = 4.0

	stepAmplitude = 20.0 / 57.3
	sineAmplitude = 30.0 / 57.3

	rateRefLimit  = 4.0
	accelRefLimit = 50.0
	jerkRefLimit  = 100.0
)

// Reference is one pitch-axis sample of the trajectory: the commanded
// angle and its first three derivatives, plus the profile clock the
// sample was evaluated at.
type Reference struct {
	Pitch   float64 // rad
	Rate    float64 // rad/s
	Accel   float64 // rad/s^2
	Jerk    float64 // rad/s^3
	Elapsed float64 // s
}

// Trajectory replays one bench profile. The step profile carries filter
// state, so a Trajectory is stateful and must be advanced with the real
// control period.
type Trajectory struct {
	profile Profile
	elapsed float64

	// Dirty-derivative chain for the step profile, reconstructing the
	// acceleration and jerk references the analytic profiles provide
	// directly.
	hpfAccel *filter.HighPass
	hpfJerk  *filter.HighPass
}

// NewTrajectory returns a trajectory at t=0. tFilter is the time
// constant of the step profile's derivative chain; zero or negative
// picks the stock 0.05 s.
func NewTrajectory(p Profile, tFilter float64) *Trajectory {
	if tFilter <= 0 {
		tFilter = 0.05
	}
	return &Trajectory{
		profile:  p,
		hpfAccel: filter.NewHighPass(tFilter),
		hpfJerk:  filter.NewHighPass(tFilter),
	}
}

// Profile returns the profile being replayed.
func (tr *Trajectory) Profile() Profile { return tr.profile }

// Advance evaluates the profile at the current clock and then steps the
// clock by dt. pitchNow is the measured pitch the step profile closes
// its rate reference on; the analytic profiles ignore it. The hold
// profile pins the clock at zero so a later profile switch starts a
// fresh run.
func (tr *Trajectory) Advance(pitchNow, dt float64) Reference {
	t := tr.elapsed
	ref := Reference{Elapsed: t}

	switch tr.profile {
	case ProfileStep:
		switch {
		case t < 5:
			ref.Pitch = 0
		case t < 15:
			ref.Pitch = stepAmplitude
		case t < 25:
			ref.Pitch = -stepAmplitude
		default:
			ref.Pitch = 0
		}
		ref.Rate = mathx.Constrain(kpAtt*(ref.Pitch-pitchNow), -rateRefLimit, rateRefLimit)
		ref.Accel = mathx.Constrain(tr.hpfAccel.Update(ref.Rate, dt), -accelRefLimit, accelRefLimit)
		ref.Jerk = mathx.Constrain(tr.hpfJerk.Update(ref.Accel, dt), -jerkRefLimit, jerkRefLimit)
		tr.elapsed += dt

	case ProfileSine:
		ref.Pitch, ref.Rate, ref.Accel, ref.Jerk = sineAt(t)
		tr.elapsed += dt

	case ProfileMulti:
		// Step plateaus carry no derivative references; only the sine
		// window does. The estimator laws close the remaining error
		// through their own attitude terms.
		switch {
		case t < 5:
			ref.Pitch = 0
		case t < 10:
			ref.Pitch = sineAmplitude
		case t < 15:
			ref.Pitch = -sineAmplitude
		case t < 20:
			ref.Pitch = 0
		case t < 30:
			ref.Pitch, ref.Rate, ref.Accel, ref.Jerk = sineAt(t - 20)
		default:
			ref.Pitch = 0
		}
		tr.elapsed += dt

	default: // ProfileHold
		// Clock stays at zero.
	}

	return ref
}

func sineAt(t float64) (pitch, rate, accel, jerk float64) {
	sin := sineAmplitude * math.Sin(omega*t)
	cos := sineAmplitude * math.Cos(omega*t)
	return sin, omega * cos, -omega * omega * sin, -omega * omega * omega * cos
}

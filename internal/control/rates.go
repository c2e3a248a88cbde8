package control

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/JingyongXue/Firmware-MUDE/internal/filter"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// RatesInput is everything one rate iteration reads.
type RatesInput struct {
	Gyro       msg.GyroSample
	Correction msg.SensorCorrection
	Bias       msg.SensorBias
	Saturation msg.SaturationStatus

	RatesSp [3]float64

	// ThrustSp gates the integrator, TPAThrust drives the throttle PID
	// attenuation. The latter follows the rate setpoint topic and can
	// lag the former by one iteration.
	ThrustSp  float64
	TPAThrust float64

	Armed      bool
	RotaryWing bool
}

// RatesOutput is the result of one rate iteration.
type RatesOutput struct {
	// Torque is the normalized roll/pitch/yaw demand.
	Torque [3]float64

	// Rates is the corrected body rate the controller acted on.
	Rates [3]float64
}

// RateController closes the body rate loop with a PID per axis plus
// setpoint feed forward. The D term acts on low-pass filtered rates and the
// integrator only runs when thrust is high enough for the motors to bite.
type RateController struct {
	gains Gains

	integral     [3]float64
	prev         [3]float64
	prevFiltered [3]float64

	dFilter    [3]*filter.LowPass2p
	loopRateHz float64
}

// NewRateController returns a controller using the given gains. The D-term
// filters start from an assumed loop rate until SetLoopRate reports the
// measured one.
func NewRateController(g Gains) *RateController {
	c := &RateController{gains: g, loopRateHz: initialLoopRateHz}
	for i := range c.dFilter {
		c.dFilter[i] = filter.NewLowPass2p(initialLoopRateHz, g.DTermCutoffHz)
	}
	return c
}

// SetGains swaps the gain snapshot. A changed D-term cutoff retunes the
// filters and reseeds them from the last rates so the D term does not spike.
func (c *RateController) SetGains(g Gains) {
	if math.Abs(c.dFilter[0].Cutoff()-g.DTermCutoffHz) > 0.01 {
		for i := range c.dFilter {
			c.dFilter[i].SetCutoff(c.loopRateHz, g.DTermCutoffHz)
			c.dFilter[i].Reset(c.prev[i])
		}
	}
	c.gains = g
}

// SetLoopRate retunes the D-term filters for the measured loop rate. The
// delay lines carry over; a rate estimate update must not kick the D term.
func (c *RateController) SetLoopRate(hz float64) {
	c.loopRateHz = hz
	for i := range c.dFilter {
		c.dFilter[i].SetCutoff(hz, c.gains.DTermCutoffHz)
	}
}

// Integral returns the integrator state.
func (c *RateController) Integral() [3]float64 {
	return c.integral
}

// ResetIntegral clears the integrator on all axes.
func (c *RateController) ResetIntegral() {
	c.integral = [3]float64{}
}

// ZeroYawIntegral clears the yaw integrator only, used while a
// weather-vaning VTOL owns the yaw axis.
func (c *RateController) ZeroYawIntegral() {
	c.integral[mathx.AxisYaw] = 0
}

// correctedRates applies the per-instance thermal correction, rotates the
// result into the body frame and removes the in-run bias estimate.
func (c *RateController) correctedRates(in *RatesInput) r3.Vector {
	raw := in.Gyro.Rates
	rates := raw

	if sel := in.Correction.SelectedInstance; sel >= 0 && sel < msg.GyroInstances {
		off := in.Correction.GyroOffset[sel]
		scale := in.Correction.GyroScale[sel]
		rates = r3.Vector{
			X: (raw.X - off.X) * scale.X,
			Y: (raw.Y - off.Y) * scale.Y,
			Z: (raw.Z - off.Z) * scale.Z,
		}
	}

	rates = c.gains.BoardRotation.MulVec(rates)
	return rates.Sub(in.Bias.GyroBias)
}

// Run closes the rate loop for one gyro sample.
func (c *RateController) Run(dt float64, in RatesInput) RatesOutput {
	g := &c.gains

	if !in.Armed || !in.RotaryWing {
		c.integral = [3]float64{}
	}

	rates := mathx.Array(c.correctedRates(&in))

	pScaled := attenuate(g.RateP, pidAttenuation(g.TPABreakpointP, g.TPARateP, in.TPAThrust))
	iScaled := attenuate(g.RateI, pidAttenuation(g.TPABreakpointI, g.TPARateI, in.TPAThrust))
	dScaled := attenuate(g.RateD, pidAttenuation(g.TPABreakpointD, g.TPARateD, in.TPAThrust))

	var ratesErr, filtered, torque [3]float64
	for i := range rates {
		ratesErr[i] = in.RatesSp[i] - rates[i]
		filtered[i] = c.dFilter[i].Apply(rates[i])

		torque[i] = pScaled[i]*ratesErr[i] +
			c.integral[i] -
			dScaled[i]*(filtered[i]-c.prevFiltered[i])/dt +
			g.RateFF[i]*in.RatesSp[i]
	}

	c.prev = rates
	c.prevFiltered = filtered

	// Update the integral only if the motors provide enough thrust for
	// the control effort to be effective.
	if in.ThrustSp > MinTakeoffThrust {
		positive := [3]bool{in.Saturation.RollPos, in.Saturation.PitchPos, in.Saturation.YawPos}
		negative := [3]bool{in.Saturation.RollNeg, in.Saturation.PitchNeg, in.Saturation.YawNeg}

		for i := range c.integral {
			err := ratesErr[i]
			// Never integrate further into a saturated output.
			if positive[i] {
				err = math.Min(err, 0)
			}
			if negative[i] {
				err = math.Max(err, 0)
			}

			v := c.integral[i] + iScaled[i]*err*dt
			if mathx.IsFinite(v) && v > -g.RateIntLim[i] && v < g.RateIntLim[i] {
				c.integral[i] = v
			}
		}
	}

	for i := range c.integral {
		c.integral[i] = mathx.Constrain(c.integral[i], -g.RateIntLim[i], g.RateIntLim[i])
	}

	return RatesOutput{Torque: torque, Rates: rates}
}

func attenuate(gain, tpa [3]float64) [3]float64 {
	return [3]float64{gain[0] * tpa[0], gain[1] * tpa[1], gain[2] * tpa[2]}
}

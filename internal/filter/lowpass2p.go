package filter

import "math"

// LowPass2p is the two-pole Butterworth low-pass applied to measured rates
// before the D term. Unlike the first-order filters it is tuned by sample
// rate and cutoff frequency; the control loop retunes it when its own rate
// estimate changes. A cutoff of zero or less disables filtering.
type LowPass2p struct {
	sampleFreq float64
	cutoff     float64
	a1, a2     float64
	b0, b1, b2 float64
	d1, d2     float64
}

// NewLowPass2p returns a filter tuned for the given sample rate and cutoff,
// both in Hz.
func NewLowPass2p(sampleFreq, cutoff float64) *LowPass2p {
	f := &LowPass2p{}
	f.SetCutoff(sampleFreq, cutoff)
	return f
}

// SetCutoff recomputes the biquad coefficients. The delay state is kept;
// callers reset explicitly when retuning mid-stream.
func (f *LowPass2p) SetCutoff(sampleFreq, cutoff float64) {
	f.sampleFreq = sampleFreq
	f.cutoff = cutoff
	if cutoff <= 0 {
		return
	}
	fr := sampleFreq / cutoff
	ohm := math.Tan(math.Pi / fr)
	c := 1 + 2*math.Cos(math.Pi/4)*ohm + ohm*ohm
	f.b0 = ohm * ohm / c
	f.b1 = 2 * f.b0
	f.b2 = f.b0
	f.a1 = 2 * (ohm*ohm - 1) / c
	f.a2 = (1 - 2*math.Cos(math.Pi/4)*ohm + ohm*ohm) / c
}

// Cutoff returns the configured cutoff frequency in Hz.
func (f *LowPass2p) Cutoff() float64 { return f.cutoff }

// Apply advances the filter by one sample and returns the new output.
func (f *LowPass2p) Apply(sample float64) float64 {
	if f.cutoff <= 0 {
		return sample
	}
	d0 := sample - f.d1*f.a1 - f.d2*f.a2
	if !isFinite(d0) {
		// Don't let a transient NaN poison the delay line.
		d0 = sample
	}
	out := d0*f.b0 + f.d1*f.b1 + f.d2*f.b2
	f.d2 = f.d1
	f.d1 = d0
	return out
}

// Reset seeds the delay state so a steady input of v keeps producing v, and
// returns the first output.
func (f *LowPass2p) Reset(v float64) float64 {
	dval := v / (f.b0 + f.b1 + f.b2)
	if isFinite(dval) {
		f.d1, f.d2 = dval, dval
	} else {
		f.d1, f.d2 = v, v
	}
	return f.Apply(v)
}

// Package filter implements the single-channel digital filters used by the
// rate and disturbance controllers. Controllers hold one instance per axis.
//
// All filters take the elapsed time per sample, so they keep working when
// the control loop rate drifts.
//
// None of the types are safe for concurrent use.
package filter

import "math"

// LowPass is the first-order low-pass 1/(Ts+1), discretized with the
// backward Euler method.
type LowPass struct {
	t float64
	y float64
}

// NewLowPass returns a low-pass with the given time constant in seconds.
func NewLowPass(timeConstant float64) *LowPass {
	return &LowPass{t: timeConstant}
}

// SetTimeConstant changes the time constant without touching the state.
func (f *LowPass) SetTimeConstant(t float64) { f.t = t }

// Update advances the filter by dt and returns the new output.
func (f *LowPass) Update(u, dt float64) float64 {
	f.y = (f.t*f.y + dt*u) / (f.t + dt)
	return f.y
}

// Output returns the last output without advancing the filter.
func (f *LowPass) Output() float64 { return f.y }

// Reset forces the output to v.
func (f *LowPass) Reset(v float64) { f.y = v }

// HighPass is the first-order high-pass s/(Ts+1), the dirty-derivative form
// used to reconstruct rate references.
type HighPass struct {
	t     float64
	y     float64
	uPrev float64
}

// NewHighPass returns a high-pass with the given time constant in seconds.
func NewHighPass(timeConstant float64) *HighPass {
	return &HighPass{t: timeConstant}
}

// SetTimeConstant changes the time constant without touching the state.
func (f *HighPass) SetTimeConstant(t float64) { f.t = t }

// Update advances the filter by dt and returns the new output.
func (f *HighPass) Update(u, dt float64) float64 {
	f.y = (f.t*f.y + u - f.uPrev) / (f.t + dt)
	f.uPrev = u
	return f.y
}

// Output returns the last output without advancing the filter.
func (f *HighPass) Output() float64 { return f.y }

// Reset zeroes the filter state.
func (f *HighPass) Reset() {
	f.y = 0
	f.uPrev = 0
}

// SecondOrderHighPass is s^2/((T1 s + 1)(T2 s + 1)): two cascaded high-pass
// stages, giving a second derivative estimate of the input.
type SecondOrderHighPass struct {
	s1, s2 HighPass
}

// NewSecondOrderHighPass returns the cascade with stage time constants t1
// and t2.
func NewSecondOrderHighPass(t1, t2 float64) *SecondOrderHighPass {
	return &SecondOrderHighPass{s1: HighPass{t: t1}, s2: HighPass{t: t2}}
}

// Update advances both stages by dt and returns the new output.
func (f *SecondOrderHighPass) Update(u, dt float64) float64 {
	return f.s2.Update(f.s1.Update(u, dt), dt)
}

// Output returns the last output without advancing the filter.
func (f *SecondOrderHighPass) Output() float64 { return f.s2.Output() }

// Reset zeroes both stages.
func (f *SecondOrderHighPass) Reset() {
	f.s1.Reset()
	f.s2.Reset()
}

// BandPass is s/((T1 s + 1)(T2 s + 1)): a high-pass stage followed by a
// low-pass stage.
type BandPass struct {
	hp HighPass
	lp LowPass
}

// NewBandPass returns the cascade with high-pass constant t1 and low-pass
// constant t2.
func NewBandPass(t1, t2 float64) *BandPass {
	return &BandPass{hp: HighPass{t: t1}, lp: LowPass{t: t2}}
}

// Update advances both stages by dt and returns the new output.
func (f *BandPass) Update(u, dt float64) float64 {
	return f.lp.Update(f.hp.Update(u, dt), dt)
}

// Output returns the last output without advancing the filter.
func (f *BandPass) Output() float64 { return f.lp.Output() }

// Reset zeroes both stages.
func (f *BandPass) Reset() {
	f.hp.Reset()
	f.lp.Reset(0)
}

// delayDepth is the number of raw samples DelayedLowPass remembers.
const delayDepth = 10

// DelayedLowPass low-passes its input and additionally remembers the raw
// input from delayDepth updates ago, approximating the transport delay of
// the motor chain on top of its first-order lag.
type DelayedLowPass struct {
	lp   LowPass
	ring [delayDepth]float64
	idx  int
}

// NewDelayedLowPass returns a delayed low-pass with the given lag time
// constant in seconds.
func NewDelayedLowPass(timeConstant float64) *DelayedLowPass {
	return &DelayedLowPass{lp: LowPass{t: timeConstant}}
}

// Update advances the filter by dt and returns the new lagged output.
func (f *DelayedLowPass) Update(u, dt float64) float64 {
	f.ring[f.idx] = u
	f.idx = (f.idx + 1) % delayDepth
	return f.lp.Update(u, dt)
}

// Delayed returns the raw input from delayDepth updates ago; zero until the
// history fills.
func (f *DelayedLowPass) Delayed() float64 {
	return f.ring[f.idx]
}

// Output returns the last lagged output without advancing the filter.
func (f *DelayedLowPass) Output() float64 { return f.lp.Output() }

// Reset zeroes the lag state and the sample history.
func (f *DelayedLowPass) Reset() {
	f.lp.Reset(0)
	f.ring = [delayDepth]float64{}
	f.idx = 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

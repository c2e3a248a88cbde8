package sim

import (
	"math"
	"testing"
)

func TestPlant_StartsLevelAndStill(t *testing.T) {
	p := NewPlant()

	if r := p.Rates(); r.X != 0 || r.Y != 0 || r.Z != 0 {
		t.Fatalf("rates not zero: %+v", r)
	}
	roll, pitch, yaw := p.Euler()
	if roll != 0 || pitch != 0 || yaw != 0 {
		t.Fatalf("attitude not level: %v %v %v", roll, pitch, yaw)
	}
}

func TestPlant_FirstStepMatchesLagModel(t *testing.T) {
	const dt = 0.004
	p := NewPlant()
	p.Step([3]float64{0, 0.2, 0}, dt)

	// One Euler step of the lag from rest, then one of the body.
	torque := dt * 0.2 / p.MotorTau
	wantRate := dt * torque / p.Inertia[1]

	if got := p.Rates().Y; math.Abs(got-wantRate) > 1e-15 {
		t.Fatalf("pitch rate: got %v want %v", got, wantRate)
	}
	if got := p.Rates().X; got != 0 {
		t.Fatalf("roll rate: got %v want 0", got)
	}
}

func TestPlant_ConstantTorquePitchesUp(t *testing.T) {
	const dt = 0.004
	p := NewPlant()

	for i := 0; i < 250; i++ {
		p.Step([3]float64{0, 0.1, 0}, dt)
	}

	_, pitch, _ := p.Euler()
	if pitch <= 0 {
		t.Fatalf("pitch after 1 s of positive torque: got %v want > 0", pitch)
	}
	if p.Rates().Y <= 0 {
		t.Fatalf("pitch rate: got %v want > 0", p.Rates().Y)
	}

	q := p.Attitude()
	norm := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("quaternion norm drifted: %v", norm)
	}
}

func TestPlant_LagDelaysTorque(t *testing.T) {
	const dt = 0.004
	p := NewPlant()

	for i := 0; i < 10; i++ {
		p.Step([3]float64{0, 0.2, 0}, dt)
	}

	// Without the lag the rate would be N*dt*cmd/I; the lagged plant
	// must trail that while still spinning up.
	instant := 10 * dt * 0.2 / p.Inertia[1]
	got := p.Rates().Y
	if got <= 0 {
		t.Fatalf("pitch rate: got %v want > 0", got)
	}
	if got >= instant {
		t.Fatalf("lag should trail the instant-torque rate: got %v want < %v", got, instant)
	}
}

func TestPlant_OppositeTorqueCancels(t *testing.T) {
	const dt = 0.004
	p := NewPlant()

	for i := 0; i < 100; i++ {
		p.Step([3]float64{0, 0.2, 0}, dt)
	}
	for i := 0; i < 100; i++ {
		p.Step([3]float64{0, -0.2, 0}, dt)
	}
	// Drive the lag to zero and coast: the rate must stay where the
	// symmetric command history left it, close to zero.
	for i := 0; i < 500; i++ {
		p.Step([3]float64{}, dt)
	}

	if got := math.Abs(p.Rates().Y); got > 0.05 {
		t.Fatalf("residual pitch rate after symmetric torque: %v", got)
	}
}

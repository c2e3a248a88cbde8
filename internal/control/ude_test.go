package control

import (
	"math"
	"testing"
	"time"
)

// benchAttitude builds the attitude view the estimator laws read: a thrust
// level, a reference attitude/rate/acceleration on the pitch axis, and the
// measured attitude.
func benchAttitude(thrust, pitchRef, pitchNow, rateRef, accelRef, jerkRef float64) AttitudeOutput {
	var out AttitudeOutput
	out.ThrustSp = thrust
	out.RatesSp = [3]float64{0, rateRef, 0}
	out.Refs.AttitudeRef = [3]float64{0, pitchRef, 0}
	out.Refs.AttitudeNow = [3]float64{0, pitchNow, 0}
	out.Refs.AccelRef = [3]float64{0, accelRef, 0}
	out.Refs.JerkRef = [3]float64{0, jerkRef, 0}
	for i := range out.Refs.ErrAttitude {
		out.Refs.ErrAttitude[i] = out.Refs.AttitudeRef[i] - out.Refs.AttitudeNow[i]
	}
	return out
}

func TestUDECascade_TorqueComposition(t *testing.T) {
	g := testGains()
	g.Variant = VariantCascadeUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0, 0.5, 2, 0))
	u.ObserveRates([3]float64{0, 0, 0}, 0.07)

	torque := u.Run(testDt)

	inertia := InertiaDiag()
	ff := inertia[1] * 2
	kp := g.KpUDE * 0.5
	ud := inertia[1] / g.TUDE * 0.5 // integral still zero
	want := ff + kp - ud

	if math.Abs(torque[1]-want) > 1e-9 {
		t.Fatalf("pitch torque = %g, want %g", torque[1], want)
	}
	if torque[2] != 0.07 {
		t.Fatalf("yaw torque = %g, want the rate loop output 0.07", torque[2])
	}

	wantIntegral := -g.KpUDE * 0.5 * testDt
	if got := u.Integral(); math.Abs(got[1]-wantIntegral) > 1e-12 {
		t.Fatalf("integral = %g, want %g", got[1], wantIntegral)
	}
}

func TestUDECascade_IntegralGatedByThrust(t *testing.T) {
	g := testGains()
	g.Variant = VariantCascadeUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.05, 0.1, 0, 0.5, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	u.Run(testDt)

	if got := u.Integral(); got != [2]float64{} {
		t.Fatalf("integral = %v below takeoff thrust, want zeros", got)
	}
}

func TestUDECascade_CompensationBounded(t *testing.T) {
	g := testGains()
	g.Variant = VariantCascadeUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0, 0, 100, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	torque := u.Run(testDt)

	// u_total = ff + kp - u_d with ff = 0: the compensation term is
	// clamped to the integral limit.
	kp := g.KpUDE * 100.0
	ud := kp - torque[1]
	if math.Abs(ud) > udeIntegralLimit+1e-9 {
		t.Fatalf("compensation %g exceeds limit %g", ud, udeIntegralLimit)
	}
}

func TestUDEPD_FilteredReferenceRate(t *testing.T) {
	g := testGains()
	g.Variant = VariantPDUDE
	g.RefRateFromHPF = true
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.2, 0, 0, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	u.Run(testDt)

	st := u.Status(time.Time{})
	want := 0.2 / (g.TFilterUDE + testDt)
	if math.Abs(st.AttitudeDotRefHPF[1]-want) > 1e-9 {
		t.Fatalf("filtered reference rate = %g, want %g", st.AttitudeDotRefHPF[1], want)
	}
	if math.Abs(st.ErrorAttitudeRate[1]-want) > 1e-9 {
		t.Fatalf("rate error = %g, want the filtered reference %g", st.ErrorAttitudeRate[1], want)
	}
}

func TestUDEPD_FilteredReferenceRateClamped(t *testing.T) {
	g := testGains()
	g.Variant = VariantPDUDE
	g.RefRateFromHPF = true
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 1.0, 0, 0, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	u.Run(testDt)

	st := u.Status(time.Time{})
	if math.Abs(st.AttitudeDotRefHPF[1]) > 4 {
		t.Fatalf("filtered reference rate = %g, want clamp at 4", st.AttitudeDotRefHPF[1])
	}
}

func TestUDEPD_DirectReferenceRate(t *testing.T) {
	g := testGains()
	g.Variant = VariantPDUDE
	g.RefRateFromHPF = false
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.2, 0, 1.5, 0, 0))
	u.ObserveRates([3]float64{0, 0.5, 0}, 0)
	u.Run(testDt)

	st := u.Status(time.Time{})
	if math.Abs(st.ErrorAttitudeRate[1]-1.0) > 1e-9 {
		t.Fatalf("rate error = %g, want direct reference minus measured = 1.0", st.ErrorAttitudeRate[1])
	}
}

func TestUDEPD_TorqueComposition(t *testing.T) {
	g := testGains()
	g.Variant = VariantPDUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0.02, 0.5, 2, 0))
	u.ObserveRates([3]float64{0, 0.1, 0}, 0)
	torque := u.Run(testDt)

	inertia := InertiaDiag()
	eAtt := 0.1 - 0.02
	eRate := 0.5 - 0.1
	ff := inertia[1] * 2
	kp := g.KpUDE * eAtt
	kd := g.KdUDE * eRate
	ud := inertia[1]/g.TUDE*eRate + 0/g.TUDE
	want := ff + kp + kd - ud

	if math.Abs(torque[1]-want) > 1e-9 {
		t.Fatalf("pitch torque = %g, want %g", torque[1], want)
	}

	wantIntegral := -testDt * (ff + kp + kd)
	if got := u.Integral(); math.Abs(got[1]-wantIntegral) > 1e-12 {
		t.Fatalf("integral = %g, want %g", got[1], wantIntegral)
	}
}

func TestUDEMotor_TorqueEstimateTracksPreviousDemand(t *testing.T) {
	g := testGains()
	g.Variant = VariantMotorUDE
	u := NewUDE(g)

	// First cycle from rest: only the attitude error acts, so the total
	// demand is the plain Kp term.
	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0, 0, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	first := u.Run(testDt)

	wantFirst := g.KpUDE * 0.1
	if math.Abs(first[1]-wantFirst) > 1e-9 {
		t.Fatalf("first cycle torque = %g, want %g", first[1], wantFirst)
	}

	// Second cycle: the torque estimate is the delayed low-pass of the
	// previous demand.
	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0, 0, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	u.Run(testDt)

	st := u.Status(time.Time{})
	wantEst := testDt * wantFirst / (MotorAlpha + testDt)
	if math.Abs(st.TorqueEst[1]-wantEst) > 1e-9 {
		t.Fatalf("torque estimate = %g, want %g", st.TorqueEst[1], wantEst)
	}
}

func TestUDEMotor_LowThrustResetsEstimates(t *testing.T) {
	g := testGains()
	g.Variant = VariantMotorUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0, 0.5, 1, 0))
	u.ObserveRates([3]float64{0, 0.2, 0}, 0)
	u.Run(testDt)
	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0, 0.5, 1, 0))
	u.ObserveRates([3]float64{0, 0.2, 0}, 0)
	u.Run(testDt)

	if st := u.Status(time.Time{}); st.TorqueEst[1] == 0 {
		t.Fatal("torque estimate did not build up")
	}

	// Thrust dropping below the takeoff threshold resets the estimator
	// state on the next cycle boundary.
	u.ObserveAttitude(benchAttitude(0.05, 0, 0, 0, 0, 0))
	u.BeginCycle(true, true)

	st := u.Status(time.Time{})
	if st.TorqueEst != [3]float64{} || st.F1Est != [3]float64{} || st.FEst != [3]float64{} {
		t.Fatalf("estimator state survived the low thrust reset: %+v", st)
	}
	if got := u.Integral(); got != [2]float64{} {
		t.Fatalf("integral = %v, want zeros", got)
	}
}

func TestUDE_DisarmResetsIntegral(t *testing.T) {
	g := testGains()
	g.Variant = VariantPDUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	u.ObserveAttitude(benchAttitude(0.4, 0.1, 0, 0.5, 0, 0))
	u.ObserveRates([3]float64{}, 0)
	u.Run(testDt)
	if got := u.Integral(); got[1] == 0 {
		t.Fatal("integral did not accumulate while armed")
	}

	u.BeginCycle(false, true)
	if got := u.Integral(); got != [2]float64{} {
		t.Fatalf("integral = %v after disarm, want zeros", got)
	}
}

func TestUDE_ZeroBenchAxes(t *testing.T) {
	g := testGains()
	g.Variant = VariantCascadeUDE
	u := NewUDE(g)

	u.BeginCycle(true, true)
	out := benchAttitude(0.4, 0.1, 0, 0.5, 1, 0)
	out.RatesSp = [3]float64{0.3, 0.5, 0}
	u.ObserveAttitude(out)
	u.ObserveRates([3]float64{}, 0.5)
	u.Run(testDt)

	torque := u.ZeroBenchAxes()
	if torque[0] != 0 || torque[2] != 0 {
		t.Fatalf("bench roll/yaw = %g/%g, want zeros", torque[0], torque[2])
	}
	if torque[1] == 0 {
		t.Fatal("bench pitch demand lost")
	}
}

func TestUDE_StatusClockAndStamp(t *testing.T) {
	g := testGains()
	g.Variant = VariantCascadeUDE
	u := NewUDE(g)

	u.AdvanceClock(0.004)
	u.AdvanceClock(0.004)

	now := time.Date(2021, 6, 15, 10, 0, 0, 0, time.UTC)
	st := u.Status(now)
	if math.Abs(st.StartTime-0.008) > 1e-12 {
		t.Fatalf("start time = %g, want 0.008", st.StartTime)
	}
	if !st.Timestamp.Equal(now) {
		t.Fatalf("timestamp = %v, want %v", st.Timestamp, now)
	}
}

func TestUDE_InputClockFollowsReference(t *testing.T) {
	g := testGains()
	g.Variant = VariantCascadeUDE
	u := NewUDE(g)

	out := benchAttitude(0.4, 0, 0, 0, 0, 0)
	out.Refs.Elapsed = 3.5
	out.Refs.ElapsedValid = true
	u.ObserveAttitude(out)
	if st := u.Status(time.Time{}); st.InputTime != 3.5 {
		t.Fatalf("input time = %g, want 3.5", st.InputTime)
	}

	// Without a live reference the clock holds its last value.
	u.ObserveAttitude(benchAttitude(0.4, 0, 0, 0, 0, 0))
	if st := u.Status(time.Time{}); st.InputTime != 3.5 {
		t.Fatalf("input time = %g, want held 3.5", st.InputTime)
	}
}

func TestVariant_ParseRoundTrip(t *testing.T) {
	for _, v := range []Variant{VariantPID, VariantPDUDE, VariantCascadeUDE, VariantMotorUDE} {
		got, err := ParseVariant(v.String())
		if err != nil {
			t.Fatalf("ParseVariant(%q): %v", v.String(), err)
		}
		if got != v {
			t.Fatalf("ParseVariant(%q) = %v, want %v", v.String(), got, v)
		}
	}
	if _, err := ParseVariant("bogus"); err == nil {
		t.Fatal("ParseVariant accepted an unknown name")
	}
}

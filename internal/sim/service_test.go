package sim

import (
	"context"
	"testing"
	"time"

	"github.com/JingyongXue/Firmware-MUDE/internal/bus"
	"github.com/JingyongXue/Firmware-MUDE/internal/config"
	"github.com/JingyongXue/Firmware-MUDE/internal/loop"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// waitFor blocks until the subscription observes a publication matching the
// predicate.
func waitFor[T any](t *testing.T, sub *bus.Subscription[T], pred func(T) bool) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sub.Wait(context.Background(), 50*time.Millisecond) {
			v, _ := sub.Poll()
			if pred(v) {
				return v
			}
		}
	}
	t.Fatalf("timed out waiting for publication")
	panic("unreachable")
}

func TestService_StartRequiresTopics(t *testing.T) {
	s := New(Config{}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error when the bus is missing")
	}
}

func TestService_PublishesBenchFrames(t *testing.T) {
	topics := loop.NewTopics()
	gyroSub := topics.Gyro.Subscribe()

	s := New(Config{RateHz: 500, Profile: ProfileHold}, topics)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		s.Close()
	})

	first := waitFor(t, gyroSub, func(msg.GyroSample) bool { return true })
	waitFor(t, gyroSub, func(g msg.GyroSample) bool {
		return g.Timestamp.After(first.Timestamp)
	})

	mode, ok := topics.Mode.Value()
	if !ok || !mode.Armed || !mode.AttitudeEnabled || !mode.RatesEnabled {
		t.Fatalf("bench mode not armed: %+v", mode)
	}
	status, ok := topics.Status.Value()
	if !ok || !status.IsRotaryWing {
		t.Fatalf("bench status: %+v", status)
	}

	sp, ok := topics.AttitudeSp.Value()
	if !ok {
		t.Fatalf("no attitude setpoint published")
	}
	if sp.Thrust != benchThrust {
		t.Fatalf("thrust: got %v want %v", sp.Thrust, benchThrust)
	}
	if !sp.Ref.Valid {
		t.Fatalf("reference not marked valid")
	}
	if sp.Ref.Rate != ([3]float64{}) {
		t.Fatalf("hold profile published a rate reference: %+v", sp.Ref.Rate)
	}
}

func TestService_ClosedLoopHoldsBenchThrust(t *testing.T) {
	topics := loop.NewTopics()
	cfg := config.Default()
	gains, err := cfg.Gains()
	if err != nil {
		t.Fatalf("Gains() error: %v", err)
	}

	ctl := loop.New(gains, topics)
	feeder := New(Config{RateHz: 500, Profile: ProfileHold}, topics)

	ctx, cancel := context.WithCancel(context.Background())
	if err := ctl.Start(ctx); err != nil {
		t.Fatalf("loop Start() error: %v", err)
	}
	if err := feeder.Start(ctx); err != nil {
		t.Fatalf("feeder Start() error: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		feeder.Close()
		ctl.Close()
	})

	actSub := topics.Actuators.Subscribe()
	out := waitFor(t, actSub, func(msg.ActuatorControls) bool { return true })
	if out.Control[3] != benchThrust {
		t.Fatalf("thrust channel: got %v want %v", out.Control[3], benchThrust)
	}

	snap := feeder.Snapshot()
	if !snap.Running {
		t.Fatalf("feeder not running: %+v", snap)
	}
	if snap.Frames == 0 {
		t.Fatalf("no frames counted: %+v", snap)
	}
	if snap.Profile != "hold" {
		t.Fatalf("profile: got %q want %q", snap.Profile, "hold")
	}
}

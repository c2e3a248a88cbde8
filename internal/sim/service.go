package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JingyongXue/Firmware-MUDE/internal/bus"
	"github.com/JingyongXue/Firmware-MUDE/internal/loop"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

// benchThrust is the fixed collective the stand flies at; the rig holds
// the airframe, thrust only keeps the motors in their linear band.
const benchThrust = 0.4

// Config holds the bench feeder settings.
type Config struct {
	// RateHz is the sample rate the feeder publishes at. Zero or
	// negative picks 250 Hz.
	RateHz float64

	// Profile is the reference profile to replay.
	Profile Profile

	// TFilter is the step profile's derivative chain time constant in
	// seconds. Zero or negative picks the stock 0.05 s.
	TFilter float64
}

// Snapshot is a point-in-time copy of the feeder state.
type Snapshot struct {
	Running   bool
	Profile   string
	Elapsed   float64
	Pitch     float64 // rad, plant state
	PitchRef  float64 // rad, commanded
	Frames    uint64
	UpdatedAt time.Time
}

// Service drives the control bus from the synthetic stand: every sample
// period it advances the plant under the latest actuator frame, then
// publishes attitude, attitude setpoint and finally the gyro sample
// that wakes the control loop.
type Service struct {
	cfg    Config
	topics *loop.Topics

	traj  *Trajectory
	plant *Plant

	mu   sync.RWMutex
	snap Snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a stopped feeder for the given bus.
func New(cfg Config, topics *loop.Topics) *Service {
	if cfg.RateHz <= 0 {
		cfg.RateHz = 250
	}
	return &Service{
		cfg:    cfg,
		topics: topics,
		traj:   NewTrajectory(cfg.Profile, cfg.TFilter),
		plant:  NewPlant(),
		stopCh: make(chan struct{}),
	}
}

// Start launches the feeder goroutine. It returns an error if the
// service cannot run; cancel ctx or call Close to stop it.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("sim: service is nil")
	}
	if s.topics == nil || s.topics.Gyro == nil {
		return errors.New("sim: loop topics are required")
	}

	s.mu.Lock()
	s.snap = Snapshot{
		Running:   true,
		Profile:   s.cfg.Profile.String(),
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Close stops the feeder. Safe to call multiple times or on nil.
func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Snapshot returns a copy of the current feeder state.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) run(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / s.cfg.RateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	actSub := s.topics.Actuators.Subscribe()
	dt := 1.0 / s.cfg.RateHz

	// Arm the stand before the first sample so the loop's first poll
	// already sees an armed, attitude-and-rate-enabled bench.
	now := time.Now().UTC()
	s.topics.Mode.Publish(msg.ControlMode{
		Armed:           true,
		AttitudeEnabled: true,
		RatesEnabled:    true,
		Timestamp:       now,
	})
	s.topics.Status.Publish(msg.VehicleStatus{IsRotaryWing: true, Timestamp: now})

	for {
		select {
		case <-ctx.Done():
			s.setStopped()
			return
		case <-s.stopCh:
			s.setStopped()
			return
		case <-ticker.C:
			s.step(actSub, dt)
		}
	}
}

func (s *Service) step(actSub *bus.Subscription[msg.ActuatorControls], dt float64) {
	now := time.Now().UTC()

	var cmd [3]float64
	if frame, ok := actSub.Poll(); ok {
		cmd = [3]float64{frame.Control[0], frame.Control[1], frame.Control[2]}
	}
	s.plant.Step(cmd, dt)

	_, pitch, _ := s.plant.Euler()
	ref := s.traj.Advance(pitch, dt)

	s.topics.Attitude.Publish(msg.VehicleAttitude{Q: s.plant.Attitude(), Timestamp: now})
	s.topics.AttitudeSp.Publish(msg.AttitudeSetpoint{
		QD:     mathx.FromEuler(0, ref.Pitch, 0),
		Thrust: benchThrust,
		Ref: msg.Reference{
			Valid:   true,
			Rate:    [3]float64{0, ref.Rate, 0},
			Accel:   [3]float64{0, ref.Accel, 0},
			Jerk:    [3]float64{0, ref.Jerk, 0},
			Elapsed: ref.Elapsed,
		},
		Timestamp: now,
	})
	// Gyro last: it is the loop's wakeup, everything above must be
	// in place when the loop polls.
	s.topics.Gyro.Publish(msg.GyroSample{Rates: s.plant.Rates(), Timestamp: now})

	s.mu.Lock()
	s.snap.Elapsed = ref.Elapsed
	s.snap.Pitch = pitch
	s.snap.PitchRef = ref.Pitch
	s.snap.Frames++
	s.snap.UpdatedAt = now
	s.mu.Unlock()
}

func (s *Service) setStopped() {
	s.mu.Lock()
	s.snap.Running = false
	s.snap.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
}

// Package loop drives the attitude and rate controllers, one cycle per gyro
// sample, the way the flight stack schedules its attitude task.
package loop

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/JingyongXue/Firmware-MUDE/internal/bus"
	"github.com/JingyongXue/Firmware-MUDE/internal/control"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
	"github.com/JingyongXue/Firmware-MUDE/internal/msg"
)

const (
	// gyroWait bounds how long one iteration blocks for a fresh sample.
	gyroWait = 100 * time.Millisecond

	// dt clamps guard the integrators against scheduling hiccups.
	minDt = 0.0002
	maxDt = 0.02

	// Once the vehicle has been running armed this long the loop rate
	// estimate is frozen.
	rateEstimateWindow = 3300 * time.Millisecond

	// initialLoopRateHz seeds the estimate until a second of samples
	// has been measured.
	initialLoopRateHz = 250.0
)

// Topics bundles every bus endpoint of the control loop.
type Topics struct {
	// Inputs. Gyro is the wakeup source, everything else is polled.
	Gyro       *bus.Topic[msg.GyroSample]
	Attitude   *bus.Topic[msg.VehicleAttitude]
	AttitudeSp *bus.Topic[msg.AttitudeSetpoint]
	Mode       *bus.Topic[msg.ControlMode]
	Manual     *bus.Topic[msg.ManualControl]
	Status     *bus.Topic[msg.VehicleStatus]
	Correction *bus.Topic[msg.SensorCorrection]
	Bias       *bus.Topic[msg.SensorBias]
	Saturation *bus.Topic[msg.SaturationStatus]
	Battery    *bus.Topic[msg.BatteryStatus]
	Gains      *bus.Topic[control.Gains]

	// RateSp is consumed in pure rate modes and published whenever an
	// attitude or acro iteration produced the setpoint itself.
	RateSp *bus.Topic[msg.RateSetpoint]

	// Outputs.
	Actuators   *bus.Topic[msg.ActuatorControls]
	RateStatus  *bus.Topic[msg.RateControllerStatus]
	UDEStatus   *bus.Topic[msg.UDEStatus]
	MixerStatus *bus.Topic[msg.MixerStatus]
}

// NewTopics returns a fully wired topic set.
func NewTopics() *Topics {
	return &Topics{
		Gyro:       bus.NewTopic[msg.GyroSample](),
		Attitude:   bus.NewTopic[msg.VehicleAttitude](),
		AttitudeSp: bus.NewTopic[msg.AttitudeSetpoint](),
		Mode:       bus.NewTopic[msg.ControlMode](),
		Manual:     bus.NewTopic[msg.ManualControl](),
		Status:     bus.NewTopic[msg.VehicleStatus](),
		Correction: bus.NewTopic[msg.SensorCorrection](),
		Bias:       bus.NewTopic[msg.SensorBias](),
		Saturation: bus.NewTopic[msg.SaturationStatus](),
		Battery:    bus.NewTopic[msg.BatteryStatus](),
		Gains:      bus.NewTopic[control.Gains](),

		RateSp: bus.NewTopic[msg.RateSetpoint](),

		Actuators:   bus.NewTopic[msg.ActuatorControls](),
		RateStatus:  bus.NewTopic[msg.RateControllerStatus](),
		UDEStatus:   bus.NewTopic[msg.UDEStatus](),
		MixerStatus: bus.NewTopic[msg.MixerStatus](),
	}
}

// Snapshot is the externally visible loop state.
type Snapshot struct {
	Running    bool
	Armed      bool
	Variant    string
	LoopRateHz float64
	LastDt     float64
	Iterations uint64
	UpdatedAt  time.Time
}

// Service owns the controllers and runs them from the gyro topic.
type Service struct {
	topics *Topics

	att   *control.AttitudeController
	rates *control.RateController
	ude   *control.UDE
	gains control.Gains

	mu   sync.RWMutex
	snap Snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New returns a service with controllers built from the initial gains.
// Later snapshots arrive on the Gains topic and take effect between cycles.
func New(g control.Gains, t *Topics) *Service {
	return &Service{
		topics: t,
		att:    control.NewAttitudeController(g),
		rates:  control.NewRateController(g),
		ude:    control.NewUDE(g),
		gains:  g,
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("loop: service is nil")
	}
	if s.topics == nil || s.topics.Gyro == nil {
		return fmt.Errorf("loop: gyro topic is required")
	}
	go s.run(ctx)
	return nil
}

func (s *Service) run(ctx context.Context) {
	t := s.topics

	gyroSub := t.Gyro.Subscribe()
	attSub := t.Attitude.Subscribe()
	spSub := t.AttitudeSp.Subscribe()
	rateSpSub := t.RateSp.Subscribe()
	modeSub := t.Mode.Subscribe()
	manualSub := t.Manual.Subscribe()
	statusSub := t.Status.Subscribe()
	corrSub := t.Correction.Subscribe()
	biasSub := t.Bias.Subscribe()
	satSub := t.Saturation.Subscribe()
	batSub := t.Battery.Subscribe()
	gainsSub := t.Gains.Subscribe()

	// Cached topic state, seeded with safe values until the first
	// publications arrive.
	att := msg.VehicleAttitude{Q: mathx.QuatIdentity()}
	sp := msg.AttitudeSetpoint{QD: mathx.QuatIdentity()}
	var vRatesSp msg.RateSetpoint
	var mode msg.ControlMode
	var manual msg.ManualControl
	status := msg.VehicleStatus{IsRotaryWing: true}
	correction := msg.DefaultSensorCorrection()
	var bias msg.SensorBias
	var saturation msg.SaturationStatus
	var battery msg.BatteryStatus

	var lastRun, started time.Time

	loopRateHz := initialLoopRateHz
	dtAccumulator := 0.0
	loopCounter := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		if !gyroSub.Wait(ctx, gyroWait) {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		sample, _ := gyroSub.Poll()
		now := sample.Timestamp
		if started.IsZero() {
			started = now
		}

		dt := now.Sub(lastRun).Seconds()
		lastRun = now
		if dt < minDt {
			dt = minDt
		}
		if dt > maxDt {
			dt = maxDt
		}

		if g, ok := gainsSub.Poll(); ok {
			s.setGains(g)
		}
		if v, ok := modeSub.Poll(); ok {
			mode = v
		}
		if v, ok := manualSub.Poll(); ok {
			manual = v
		}
		if v, ok := statusSub.Poll(); ok {
			status = v
		}
		if v, ok := corrSub.Poll(); ok {
			correction = v
		}
		if v, ok := biasSub.Poll(); ok {
			bias = v
		}
		if v, ok := satSub.Poll(); ok {
			saturation = v
		}
		if v, ok := batSub.Poll(); ok {
			battery = v
		}
		if v, ok := attSub.Poll(); ok {
			att = v
		}
		if v, ok := spSub.Poll(); ok {
			sp = v
		}

		g := s.gains

		// In rattitude mode enough stick deflection drops the cycle to
		// pure rate control.
		attitudeEnabled := mode.AttitudeEnabled
		if mode.RattitudeEnabled &&
			(math.Abs(manual.Y) > g.RattitudeThreshold || math.Abs(manual.X) > g.RattitudeThreshold) {
			attitudeEnabled = false
		}

		if g.Variant != control.VariantPID {
			// An estimator law owns the cycle. The attitude and rate
			// controllers still run: the attitude loop supplies the
			// reference view and the rate PID closes yaw.
			s.ude.BeginCycle(mode.Armed, status.IsRotaryWing)

			attOut := s.att.Run(control.AttitudeInput{Q: att.Q, SP: sp, Mode: mode, Status: status})
			if attOut.ZeroYawIntegral {
				s.rates.ZeroYawIntegral()
			}
			vRatesSp = msg.RateSetpoint{Rates: mathx.Vector(attOut.RatesSp), Thrust: attOut.ThrustSp, Timestamp: now}
			t.RateSp.Publish(vRatesSp)
			s.ude.ObserveAttitude(attOut)

			rOut := s.rates.Run(dt, control.RatesInput{
				Gyro:       sample,
				Correction: correction,
				Bias:       bias,
				Saturation: saturation,
				RatesSp:    attOut.RatesSp,
				ThrustSp:   attOut.ThrustSp,
				TPAThrust:  vRatesSp.Thrust,
				Armed:      mode.Armed,
				RotaryWing: status.IsRotaryWing,
			})
			s.ude.ObserveRates(rOut.Rates, rOut.Torque[mathx.AxisYaw])

			u := s.ude.Run(dt)
			if g.BenchMode {
				u = s.ude.ZeroBenchAxes()
			}

			var out msg.ActuatorControls
			if g.UseMixer {
				mix := control.Mix(u[0], u[1], u[2], attOut.ThrustSp)
				mix.Timestamp = now
				if g.BenchMode {
					mix.OutputRoll = 0
					mix.OutputYaw = 0
				}
				t.MixerStatus.Publish(mix)
				out.Control[0] = finiteOrZero(mix.OutputRoll)
				out.Control[1] = finiteOrZero(mix.OutputPitch)
				out.Control[2] = finiteOrZero(mix.OutputYaw)
				out.Control[3] = finiteOrZero(mix.OutputThrust)
			} else {
				out.Control[0] = finiteOrZero(u[0])
				out.Control[1] = finiteOrZero(u[1])
				out.Control[2] = finiteOrZero(u[2])
				out.Control[3] = finiteOrZero(attOut.ThrustSp)
			}
			out.Control[7] = sp.LandingGear
			s.publishActuators(out, battery, now, sample.Timestamp)
		} else {
			var ratesSp [3]float64
			var thrustSp float64

			if attitudeEnabled {
				attOut := s.att.Run(control.AttitudeInput{Q: att.Q, SP: sp, Mode: mode, Status: status})
				if attOut.ZeroYawIntegral {
					s.rates.ZeroYawIntegral()
				}
				ratesSp = attOut.RatesSp
				thrustSp = attOut.ThrustSp
				vRatesSp = msg.RateSetpoint{Rates: mathx.Vector(ratesSp), Thrust: thrustSp, Timestamp: now}
				t.RateSp.Publish(vRatesSp)
			} else if mode.ManualEnabled {
				// Acro: shape the sticks and scale to the acro limits.
				shaped := [3]float64{
					mathx.SuperExpo(manual.Y, g.AcroExpoRP, g.AcroSuperExpoRP),
					mathx.SuperExpo(-manual.X, g.AcroExpoRP, g.AcroSuperExpoRP),
					mathx.SuperExpo(manual.R, g.AcroExpoYaw, g.AcroSuperExpoYaw),
				}
				for i := range shaped {
					ratesSp[i] = shaped[i] * g.AcroRateMax[i]
				}
				thrustSp = manual.Z
				vRatesSp = msg.RateSetpoint{Rates: mathx.Vector(ratesSp), Thrust: thrustSp, Timestamp: now}
				t.RateSp.Publish(vRatesSp)
			} else {
				if v, ok := rateSpSub.Poll(); ok {
					vRatesSp = v
				}
				ratesSp = mathx.Array(vRatesSp.Rates)
				thrustSp = vRatesSp.Thrust
			}

			if mode.RatesEnabled {
				rOut := s.rates.Run(dt, control.RatesInput{
					Gyro:       sample,
					Correction: correction,
					Bias:       bias,
					Saturation: saturation,
					RatesSp:    ratesSp,
					ThrustSp:   thrustSp,
					TPAThrust:  vRatesSp.Thrust,
					Armed:      mode.Armed,
					RotaryWing: status.IsRotaryWing,
				})

				u := rOut.Torque
				if g.BenchMode {
					u[mathx.AxisRoll] = 0
					u[mathx.AxisYaw] = 0
				}

				var out msg.ActuatorControls
				out.Control[0] = finiteOrZero(u[0])
				out.Control[1] = finiteOrZero(u[1])
				out.Control[2] = finiteOrZero(u[2])
				out.Control[3] = finiteOrZero(thrustSp)
				out.Control[7] = sp.LandingGear
				s.publishActuators(out, battery, now, sample.Timestamp)

				ri := s.rates.Integral()
				t.RateStatus.Publish(msg.RateControllerStatus{
					RatesMeasured: mathx.Vector(rOut.Rates),
					Integral:      mathx.Vector(ri),
					Timestamp:     now,
				})
			}
		}

		// The estimator status frame goes out every cycle so bench logs
		// stay continuous across variant switches.
		s.ude.AdvanceClock(dt)
		t.UDEStatus.Publish(s.ude.Status(now))

		if mode.TerminationEnabled && !status.IsVTOL {
			vRatesSp = msg.RateSetpoint{}
			s.rates.ResetIntegral()
			s.ude.ResetIntegral()
			var out msg.ActuatorControls
			out.Control[7] = sp.LandingGear
			s.publishActuators(out, battery, now, sample.Timestamp)
		}

		// Refine the loop rate estimate while disarmed or shortly after
		// start, then leave the D-term filters alone.
		if !mode.Armed || now.Sub(started) < rateEstimateWindow {
			dtAccumulator += dt
			loopCounter++
			if dtAccumulator > 1 {
				newRate := float64(loopCounter) / dtAccumulator
				loopRateHz = 0.5*loopRateHz + 0.5*newRate
				dtAccumulator = 0
				loopCounter = 0
				s.rates.SetLoopRate(loopRateHz)
			}
		}

		s.mu.Lock()
		s.snap.Running = true
		s.snap.Armed = mode.Armed
		s.snap.Variant = g.Variant.String()
		s.snap.LoopRateHz = loopRateHz
		s.snap.LastDt = dt
		s.snap.Iterations++
		s.snap.UpdatedAt = time.Now().UTC()
		s.mu.Unlock()
	}
}

func (s *Service) setGains(g control.Gains) {
	s.gains = g
	s.att.SetGains(g)
	s.rates.SetGains(g)
	s.ude.SetGains(g)
}

// publishActuators applies the battery compensation and stamps the frame
// with the gyro sample that produced it.
func (s *Service) publishActuators(out msg.ActuatorControls, battery msg.BatteryStatus, now, sampleTime time.Time) {
	if s.gains.BatteryScaleEnabled && battery.Scale > 0 {
		for i := 0; i < 4; i++ {
			out.Control[i] *= battery.Scale
		}
	}
	out.Timestamp = now
	out.SampleTime = sampleTime
	s.topics.Actuators.Publish(out)
}

func finiteOrZero(v float64) float64 {
	if mathx.IsFinite(v) {
		return v
	}
	return 0
}

// Package config loads the controller configuration from a YAML file.
//
// Load starts from the stock tuning and overlays the file on top, so a
// config only needs the values it changes and an explicit zero (for example
// a disabled D gain) survives.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JingyongXue/Firmware-MUDE/internal/control"
	"github.com/JingyongXue/Firmware-MUDE/internal/mathx"
)

type Config struct {
	Control     ControlConfig     `yaml:"control"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	ActuatorOut ActuatorOutConfig `yaml:"actuator_out"`
	Sim         SimConfig         `yaml:"sim"`
	ArmLED      ArmLEDConfig      `yaml:"arm_led"`
	RT          RTConfig          `yaml:"rt"`
}

// AxisGains is the rate PID tuning of one body axis.
type AxisGains struct {
	P      float64 `yaml:"p"`
	I      float64 `yaml:"i"`
	D      float64 `yaml:"d"`
	FF     float64 `yaml:"ff"`
	IntLim float64 `yaml:"int_lim"`
}

// TPAConfig shapes the throttle PID attenuation. A breakpoint of 1 leaves
// the term untouched.
type TPAConfig struct {
	BreakpointP float64 `yaml:"breakpoint_p"`
	BreakpointI float64 `yaml:"breakpoint_i"`
	BreakpointD float64 `yaml:"breakpoint_d"`
	RateP       float64 `yaml:"rate_p"`
	RateI       float64 `yaml:"rate_i"`
	RateD       float64 `yaml:"rate_d"`
}

// AcroConfig is the stick shaping and rate limits of acro mode.
type AcroConfig struct {
	RollMaxDeg   float64 `yaml:"roll_max_deg"`
	PitchMaxDeg  float64 `yaml:"pitch_max_deg"`
	YawMaxDeg    float64 `yaml:"yaw_max_deg"`
	Expo         float64 `yaml:"expo"`
	ExpoYaw      float64 `yaml:"expo_yaw"`
	SuperExpo    float64 `yaml:"superexpo"`
	SuperExpoYaw float64 `yaml:"superexpo_yaw"`
}

// UDEConfig tunes the uncertainty and disturbance estimator laws.
type UDEConfig struct {
	Kp float64 `yaml:"kp"`
	Kd float64 `yaml:"kd"`
	Km float64 `yaml:"km"`
	T  float64 `yaml:"t"`

	TFilter float64 `yaml:"t_filter"`
	TF      float64 `yaml:"t_f"`
	TF1     float64 `yaml:"t_f1"`
	TF2     float64 `yaml:"t_f2"`
	TTorque float64 `yaml:"t_torque"`

	RefRateFromHPF bool `yaml:"ref_rate_from_hpf"`
}

// BoardConfig orients the gyro board relative to the body frame: a coarse
// named rotation plus a fine Euler offset in degrees.
type BoardConfig struct {
	Rotation   string  `yaml:"rotation"`
	OffsetXDeg float64 `yaml:"offset_x_deg"`
	OffsetYDeg float64 `yaml:"offset_y_deg"`
	OffsetZDeg float64 `yaml:"offset_z_deg"`
}

type ControlConfig struct {
	Variant   string `yaml:"variant"`
	UseMixer  bool   `yaml:"use_mixer"`
	BenchMode bool   `yaml:"bench_mode"`

	RollP  float64 `yaml:"roll_p"`
	PitchP float64 `yaml:"pitch_p"`
	YawP   float64 `yaml:"yaw_p"`
	YawFF  float64 `yaml:"yaw_ff"`

	RollRate  AxisGains `yaml:"roll_rate"`
	PitchRate AxisGains `yaml:"pitch_rate"`
	YawRate   AxisGains `yaml:"yaw_rate"`

	DTermCutoffHz float64 `yaml:"d_term_cutoff_hz"`

	TPA TPAConfig `yaml:"tpa"`

	RollRateMaxDeg  float64 `yaml:"roll_rate_max_deg"`
	PitchRateMaxDeg float64 `yaml:"pitch_rate_max_deg"`
	YawRateMaxDeg   float64 `yaml:"yaw_rate_max_deg"`
	YawAutoMaxDeg   float64 `yaml:"yaw_auto_max_deg"`

	Acro AcroConfig `yaml:"acro"`

	RattitudeThreshold      float64 `yaml:"rattitude_threshold"`
	WeathervaneYawRateScale float64 `yaml:"wv_yaw_rate_scale"`
	BatteryScale            bool    `yaml:"battery_scale"`

	UDE UDEConfig `yaml:"ude"`

	Board BoardConfig `yaml:"board"`
}

type TelemetryConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type ActuatorOutConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type SimConfig struct {
	Enable     bool    `yaml:"enable"`
	RateHz     float64 `yaml:"rate_hz"`
	Trajectory string  `yaml:"trajectory"`
}

type ArmLEDConfig struct {
	Enable bool `yaml:"enable"`
	Pin    int  `yaml:"pin"`
}

type RTConfig struct {
	LockMemory bool `yaml:"lock_memory"`
	// Priority moves the process to SCHED_FIFO when nonzero.
	Priority int `yaml:"priority"`
}

// Default returns the stock tuning of the bench quadrotor.
func Default() Config {
	return Config{
		Control: ControlConfig{
			Variant: "pid",

			RollP:  6.5,
			PitchP: 6.5,
			YawP:   2.8,
			YawFF:  0.5,

			RollRate:  AxisGains{P: 0.15, I: 0.05, D: 0.003, IntLim: 0.30},
			PitchRate: AxisGains{P: 0.15, I: 0.05, D: 0.003, IntLim: 0.30},
			YawRate:   AxisGains{P: 0.2, I: 0.1, D: 0, IntLim: 0.30},

			DTermCutoffHz: 30,

			TPA: TPAConfig{BreakpointP: 1, BreakpointI: 1, BreakpointD: 1},

			RollRateMaxDeg:  220,
			PitchRateMaxDeg: 220,
			YawRateMaxDeg:   200,
			YawAutoMaxDeg:   45,

			Acro: AcroConfig{
				RollMaxDeg:   720,
				PitchMaxDeg:  720,
				YawMaxDeg:    540,
				Expo:         0.69,
				ExpoYaw:      0.69,
				SuperExpo:    0.7,
				SuperExpoYaw: 0.7,
			},

			RattitudeThreshold:      0.8,
			WeathervaneYawRateScale: 0.15,

			UDE: UDEConfig{
				Kp:      16,
				Kd:      8,
				Km:      1,
				T:       0.05,
				TFilter: 0.05,
				TF:      0.05,
				TF1:     0.05,
				TF2:     0.05,
				TTorque: 0.05,
			},

			Board: BoardConfig{Rotation: "none"},
		},
		Telemetry: TelemetryConfig{Listen: ":8080"},
		Sim:       SimConfig{RateHz: 250, Trajectory: "hold"},
		ArmLED:    ArmLEDConfig{Pin: 17},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) && allUnknownFields(typeErr) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s",
				strings.Join(stripLinePrefixes(typeErr), "; "))
		}
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func allUnknownFields(e *yaml.TypeError) bool {
	for _, msg := range e.Errors {
		if !strings.Contains(msg, "not found in type") {
			return false
		}
	}
	return len(e.Errors) > 0
}

func stripLinePrefixes(e *yaml.TypeError) []string {
	out := make([]string, 0, len(e.Errors))
	for _, msg := range e.Errors {
		if i := strings.Index(msg, ": "); i >= 0 {
			msg = msg[i+2:]
		}
		out = append(out, msg)
	}
	return out
}

func (c *Config) validate() error {
	ctl := &c.Control

	if _, err := control.ParseVariant(ctl.Variant); err != nil {
		return fmt.Errorf("control.variant must be one of pid, pd-ude, cascade-ude, motor-ude")
	}
	if ctl.RollP <= 0 || ctl.PitchP <= 0 {
		return fmt.Errorf("control.roll_p and control.pitch_p must be > 0")
	}
	if ctl.YawP < 0 {
		return fmt.Errorf("control.yaw_p must be >= 0")
	}

	for _, ax := range []struct {
		name string
		g    AxisGains
	}{
		{"roll_rate", ctl.RollRate},
		{"pitch_rate", ctl.PitchRate},
		{"yaw_rate", ctl.YawRate},
	} {
		if ax.g.P < 0 || ax.g.I < 0 || ax.g.D < 0 || ax.g.FF < 0 {
			return fmt.Errorf("control.%s gains must be >= 0", ax.name)
		}
		if ax.g.IntLim <= 0 {
			return fmt.Errorf("control.%s.int_lim must be > 0", ax.name)
		}
	}

	if ctl.DTermCutoffHz < 0 {
		return fmt.Errorf("control.d_term_cutoff_hz must be >= 0")
	}

	for _, bp := range []struct {
		name string
		v    float64
	}{
		{"breakpoint_p", ctl.TPA.BreakpointP},
		{"breakpoint_i", ctl.TPA.BreakpointI},
		{"breakpoint_d", ctl.TPA.BreakpointD},
		{"rate_p", ctl.TPA.RateP},
		{"rate_i", ctl.TPA.RateI},
		{"rate_d", ctl.TPA.RateD},
	} {
		if bp.v < 0 || bp.v > 1 {
			return fmt.Errorf("control.tpa.%s must be within [0, 1]", bp.name)
		}
	}

	if ctl.RollRateMaxDeg <= 0 || ctl.PitchRateMaxDeg <= 0 || ctl.YawRateMaxDeg <= 0 || ctl.YawAutoMaxDeg <= 0 {
		return fmt.Errorf("control rate limits must be > 0")
	}
	if ctl.RattitudeThreshold <= 0 || ctl.RattitudeThreshold > 1 {
		return fmt.Errorf("control.rattitude_threshold must be within (0, 1]")
	}
	if ctl.WeathervaneYawRateScale < 0 || ctl.WeathervaneYawRateScale > 1 {
		return fmt.Errorf("control.wv_yaw_rate_scale must be within [0, 1]")
	}

	u := &ctl.UDE
	if u.Kp < 0 || u.Kd < 0 || u.Km < 0 {
		return fmt.Errorf("control.ude gains must be >= 0")
	}
	for _, tc := range []struct {
		name string
		v    float64
	}{
		{"t", u.T},
		{"t_filter", u.TFilter},
		{"t_f", u.TF},
		{"t_f1", u.TF1},
		{"t_f2", u.TF2},
		{"t_torque", u.TTorque},
	} {
		if tc.v <= 0 {
			return fmt.Errorf("control.ude.%s must be > 0", tc.name)
		}
	}

	if _, err := mathx.Rotation(ctl.Board.Rotation).Dcm(); err != nil {
		return fmt.Errorf("control.board.rotation %q is not a known orientation", ctl.Board.Rotation)
	}

	if c.Telemetry.Enable && c.Telemetry.Listen == "" {
		return fmt.Errorf("telemetry.listen is required when telemetry.enable is true")
	}
	if c.ActuatorOut.Enable && c.ActuatorOut.Dest == "" {
		return fmt.Errorf("actuator_out.dest is required when actuator_out.enable is true")
	}

	if c.Sim.RateHz <= 0 {
		return fmt.Errorf("sim.rate_hz must be > 0")
	}
	switch c.Sim.Trajectory {
	case "hold", "step", "sine", "multi":
	default:
		return fmt.Errorf("sim.trajectory must be one of hold, step, sine, multi")
	}

	if c.ArmLED.Enable && c.ArmLED.Pin <= 0 {
		return fmt.Errorf("arm_led.pin is required when arm_led.enable is true")
	}
	if c.RT.Priority < 0 || c.RT.Priority > 99 {
		return fmt.Errorf("rt.priority must be within [0, 99]")
	}

	return nil
}

// Gains converts the control section into the snapshot the controllers
// consume, converting degree limits to radians and resolving the board
// rotation.
func (c *Config) Gains() (control.Gains, error) {
	ctl := &c.Control

	variant, err := control.ParseVariant(ctl.Variant)
	if err != nil {
		return control.Gains{}, err
	}

	board, err := mathx.BoardRotation(mathx.Rotation(ctl.Board.Rotation),
		ctl.Board.OffsetXDeg, ctl.Board.OffsetYDeg, ctl.Board.OffsetZDeg)
	if err != nil {
		return control.Gains{}, err
	}

	rad := mathx.Radians
	return control.Gains{
		AttitudeP: [3]float64{ctl.RollP, ctl.PitchP, ctl.YawP},
		YawFF:     ctl.YawFF,

		RateP:      [3]float64{ctl.RollRate.P, ctl.PitchRate.P, ctl.YawRate.P},
		RateI:      [3]float64{ctl.RollRate.I, ctl.PitchRate.I, ctl.YawRate.I},
		RateD:      [3]float64{ctl.RollRate.D, ctl.PitchRate.D, ctl.YawRate.D},
		RateFF:     [3]float64{ctl.RollRate.FF, ctl.PitchRate.FF, ctl.YawRate.FF},
		RateIntLim: [3]float64{ctl.RollRate.IntLim, ctl.PitchRate.IntLim, ctl.YawRate.IntLim},

		DTermCutoffHz: ctl.DTermCutoffHz,

		TPABreakpointP: ctl.TPA.BreakpointP,
		TPABreakpointI: ctl.TPA.BreakpointI,
		TPABreakpointD: ctl.TPA.BreakpointD,
		TPARateP:       ctl.TPA.RateP,
		TPARateI:       ctl.TPA.RateI,
		TPARateD:       ctl.TPA.RateD,

		MCRateMax: [3]float64{
			rad(ctl.RollRateMaxDeg), rad(ctl.PitchRateMaxDeg), rad(ctl.YawRateMaxDeg),
		},
		AutoRateMax: [3]float64{
			rad(ctl.RollRateMaxDeg), rad(ctl.PitchRateMaxDeg), rad(ctl.YawAutoMaxDeg),
		},

		AcroRateMax: [3]float64{
			rad(ctl.Acro.RollMaxDeg), rad(ctl.Acro.PitchMaxDeg), rad(ctl.Acro.YawMaxDeg),
		},
		AcroExpoRP:       ctl.Acro.Expo,
		AcroExpoYaw:      ctl.Acro.ExpoYaw,
		AcroSuperExpoRP:  ctl.Acro.SuperExpo,
		AcroSuperExpoYaw: ctl.Acro.SuperExpoYaw,

		RattitudeThreshold:      ctl.RattitudeThreshold,
		WeathervaneYawRateScale: ctl.WeathervaneYawRateScale,
		BatteryScaleEnabled:     ctl.BatteryScale,

		KpUDE: ctl.UDE.Kp,
		KdUDE: ctl.UDE.Kd,
		KmUDE: ctl.UDE.Km,
		TUDE:  ctl.UDE.T,

		TFilterUDE: ctl.UDE.TFilter,
		TF:         ctl.UDE.TF,
		TF1:        ctl.UDE.TF1,
		TF2:        ctl.UDE.TF2,
		TTorque:    ctl.UDE.TTorque,

		Variant:        variant,
		RefRateFromHPF: ctl.UDE.RefRateFromHPF,
		UseMixer:       ctl.UseMixer,
		BenchMode:      ctl.BenchMode,

		BoardRotation: board,
	}, nil
}

package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/JingyongXue/Firmware-MUDE/internal/control"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "control:\n  variant: pid\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Control.RollP != 6.5 || cfg.Control.PitchP != 6.5 || cfg.Control.YawP != 2.8 {
		t.Fatalf("attitude gains=%v/%v/%v want 6.5/6.5/2.8",
			cfg.Control.RollP, cfg.Control.PitchP, cfg.Control.YawP)
	}
	if cfg.Control.YawRate.D != 0 {
		t.Fatalf("yaw rate D=%v want 0", cfg.Control.YawRate.D)
	}
	if cfg.Control.TPA.BreakpointP != 1 {
		t.Fatalf("tpa breakpoint_p=%v want 1", cfg.Control.TPA.BreakpointP)
	}
	if cfg.Control.UDE.Kp != 16 || cfg.Control.UDE.T != 0.05 {
		t.Fatalf("ude kp=%v t=%v want 16/0.05", cfg.Control.UDE.Kp, cfg.Control.UDE.T)
	}
	if cfg.Sim.RateHz != 250 || cfg.Sim.Trajectory != "hold" {
		t.Fatalf("sim defaults=%v/%q want 250/hold", cfg.Sim.RateHz, cfg.Sim.Trajectory)
	}
	if cfg.Telemetry.Listen != ":8080" {
		t.Fatalf("telemetry listen=%q want :8080", cfg.Telemetry.Listen)
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Control.Variant != "pid" {
		t.Fatalf("variant=%q want pid", cfg.Control.Variant)
	}
}

func TestLoad_ExplicitZeroOverridesDefault(t *testing.T) {
	path := writeTempConfig(t, "control:\n  pitch_rate:\n    d: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Control.PitchRate.D != 0 {
		t.Fatalf("pitch rate D=%v want explicit 0", cfg.Control.PitchRate.D)
	}
	if cfg.Control.PitchRate.P != 0.15 {
		t.Fatalf("pitch rate P=%v want untouched default 0.15", cfg.Control.PitchRate.P)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "Variant",
			body: "control:\n  variant: fuzzy\n",
			want: "control.variant must be one of pid, pd-ude, cascade-ude, motor-ude",
		},
		{
			name: "TPABreakpoint",
			body: "control:\n  tpa:\n    breakpoint_p: 1.5\n",
			want: "control.tpa.breakpoint_p must be within [0, 1]",
		},
		{
			name: "UDETimeConstant",
			body: "control:\n  ude:\n    t: -1\n",
			want: "control.ude.t must be > 0",
		},
		{
			name: "IntegratorLimit",
			body: "control:\n  yaw_rate:\n    int_lim: 0\n",
			want: "control.yaw_rate.int_lim must be > 0",
		},
		{
			name: "BoardRotation",
			body: "control:\n  board:\n    rotation: sideways\n",
			want: "control.board.rotation \"sideways\" is not a known orientation",
		},
		{
			name: "ActuatorDest",
			body: "actuator_out:\n  enable: true\n",
			want: "actuator_out.dest is required when actuator_out.enable is true",
		},
		{
			name: "Trajectory",
			body: "sim:\n  trajectory: spiral\n",
			want: "sim.trajectory must be one of hold, step, sine, multi",
		},
		{
			name: "ArmLEDPin",
			body: "arm_led:\n  enable: true\n",
			want: "arm_led.pin is required when arm_led.enable is true",
		},
		{
			name: "RTPriority",
			body: "rt:\n  priority: 120\n",
			want: "rt.priority must be within [0, 99]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempConfig(t, tc.body)
			_, err := Load(path)
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "control:\n  aggressiveness: 11\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field aggressiveness not found in type config.ControlConfig")
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() of a missing file did not fail")
	}
}

func TestGains_Conversion(t *testing.T) {
	cfg := Default()
	cfg.Control.Variant = "cascade-ude"
	cfg.Control.Board.Rotation = "yaw_90"

	g, err := cfg.Gains()
	if err != nil {
		t.Fatalf("Gains() error: %v", err)
	}

	if g.Variant != control.VariantCascadeUDE {
		t.Fatalf("variant=%v want cascade-ude", g.Variant)
	}
	if want := 220 * math.Pi / 180; math.Abs(g.MCRateMax[0]-want) > 1e-12 {
		t.Fatalf("roll rate max=%v rad want %v", g.MCRateMax[0], want)
	}
	if want := 45 * math.Pi / 180; math.Abs(g.AutoRateMax[2]-want) > 1e-12 {
		t.Fatalf("auto yaw rate max=%v rad want %v", g.AutoRateMax[2], want)
	}
	if g.RateD != [3]float64{0.003, 0.003, 0} {
		t.Fatalf("rate D=%v want 0.003/0.003/0", g.RateD)
	}

	// yaw_90 maps body X onto sensor Y.
	v := g.BoardRotation.MulVec(r3.Vector{X: 1})
	if math.Abs(v.Y-1) > 1e-9 || math.Abs(v.X) > 1e-9 {
		t.Fatalf("board rotation moved X to %v, want Y", v)
	}
}

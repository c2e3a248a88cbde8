package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/JingyongXue/Firmware-MUDE/internal/actuatorout"
	"github.com/JingyongXue/Firmware-MUDE/internal/armled"
	"github.com/JingyongXue/Firmware-MUDE/internal/config"
	"github.com/JingyongXue/Firmware-MUDE/internal/loop"
	"github.com/JingyongXue/Firmware-MUDE/internal/rt"
	"github.com/JingyongXue/Firmware-MUDE/internal/sim"
	"github.com/JingyongXue/Firmware-MUDE/internal/telemetry"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./mc-att-control.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("mc-att-control starting")
	if err := run(ctx, cancel, cfg); err != nil {
		log.Fatalf("runtime failed: %v", err)
	}
	log.Printf("mc-att-control stopping")
}

// run wires the services around the control loop and blocks until ctx
// is canceled.
func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config) error {
	gains, err := cfg.Gains()
	if err != nil {
		return err
	}

	if err := rt.Setup(cfg.RT.LockMemory, cfg.RT.Priority); err != nil {
		// The loop runs without the knobs, just with more jitter.
		log.Printf("rt setup failed: %v", err)
	}

	topics := loop.NewTopics()
	ctl := loop.New(gains, topics)
	if err := ctl.Start(ctx); err != nil {
		return err
	}
	defer ctl.Close()

	log.Printf("control: variant=%s mixer=%v bench=%v", gains.Variant, gains.UseMixer, gains.BenchMode)

	if cfg.Sim.Enable {
		profile, err := sim.ParseProfile(cfg.Sim.Trajectory)
		if err != nil {
			return err
		}
		feeder := sim.New(sim.Config{
			RateHz:  cfg.Sim.RateHz,
			Profile: profile,
			TFilter: cfg.Control.UDE.TFilter,
		}, topics)
		if err := feeder.Start(ctx); err != nil {
			return err
		}
		defer feeder.Close()
		log.Printf("sim: rate=%.0fhz profile=%s", cfg.Sim.RateHz, profile)
	}

	if cfg.Telemetry.Enable {
		hub := telemetry.NewHub()
		collector := &telemetry.Collector{Hub: hub, Topics: topics, Loop: ctl}
		go collector.Run(ctx)
		go func() {
			err := telemetry.Serve(ctx, cfg.Telemetry.Listen, hub)
			if err != nil && ctx.Err() == nil {
				log.Printf("telemetry server stopped: %v", err)
				cancel()
			}
		}()
		log.Printf("telemetry: listen=%s", cfg.Telemetry.Listen)
	}

	if cfg.ActuatorOut.Enable {
		sink, err := actuatorout.New(cfg.ActuatorOut.Dest)
		if err != nil {
			return err
		}
		defer sink.Close()
		go sink.Pump(ctx, topics.Actuators)
		log.Printf("actuator out: dest=%s", cfg.ActuatorOut.Dest)
	}

	if cfg.ArmLED.Enable {
		led, err := armled.New(cfg.ArmLED.Pin)
		if err != nil {
			// Keep flying without the indicator.
			log.Printf("armled init failed: %v", err)
		} else {
			defer led.Close()
			go led.Watch(ctx, topics.Mode)
		}
	}

	<-ctx.Done()
	return nil
}

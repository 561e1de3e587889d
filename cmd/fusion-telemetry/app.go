package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"fusion-telemetry/internal/anomaly"
	"fusion-telemetry/internal/config"
	"fusion-telemetry/internal/fusion"
	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/metrics"
	"fusion-telemetry/internal/pipeline"
	"fusion-telemetry/internal/sim"
	"fusion-telemetry/internal/telemetry"
	"fusion-telemetry/internal/udp"
	"fusion-telemetry/internal/web"
)

// app is the wired process: pipeline, HTTP server and optional UDP sink.
type app struct {
	cfg     config.Config
	hub     *hub.Hub[telemetry.FusedEstimate]
	orch    *pipeline.Orchestrator
	status  *web.Status
	ln      net.Listener
	handler http.Handler
	sink    *udp.Sink
	udp     *udp.Broadcaster
}

func newApp(cfg config.Config, configPath string, logs *web.LogBuffer) (*app, error) {
	m := metrics.New()
	h := hub.New[telemetry.FusedEstimate](cfg.Hub.Capacity)
	cell := &anomaly.Cell{}
	status := web.NewStatus()

	var script *sim.FaultTimeline
	if cfg.Faults.Script != "" {
		faults, err := sim.LoadFaultScript(cfg.Faults.Script)
		if err != nil {
			return nil, fmt.Errorf("fault script %s: %w", cfg.Faults.Script, err)
		}
		script, err = sim.NewFaultTimeline(faults)
		if err != nil {
			return nil, fmt.Errorf("fault script %s: %w", cfg.Faults.Script, err)
		}
		log.Printf("fault script loaded path=%s steps=%d loop=%t", cfg.Faults.Script, len(faults.Steps), faults.Loop)
	}

	// Distinct streams per simulator keep a fixed seed reproducible.
	gpsSeed := cfg.Sensors.Seed
	if gpsSeed != 0 {
		gpsSeed++
	}
	imuRand, gpsRand := sim.NewRand(cfg.Sensors.Seed), sim.NewRand(gpsSeed)

	filter := fusion.New(fusion.Config{
		Alpha:     *cfg.Fusion.Alpha,
		MaxStep:   cfg.Fusion.MaxStep,
		DriftGain: *cfg.Fusion.DriftGain,
	})
	orch, err := pipeline.New(pipeline.Config{Script: script}, pipeline.Deps{
		Inertial:    sim.NewInertialSim(sim.InertialConfig{Period: cfg.InertialPeriod()}, imuRand),
		Positioning: sim.NewPositioningSim(sim.PositioningConfig{Period: cfg.PositioningPeriod()}, gpsRand),
		Filter:      filter,
		Hub:         h,
		Anomaly:     cell,
		Metrics:     m,
		Observer:    status,
	})
	if err != nil {
		return nil, err
	}

	status.SetAlpha(filter.Alpha())
	status.SetStatic(map[string]any{
		"inertial_hz":    cfg.Sensors.InertialHz,
		"positioning_hz": cfg.Sensors.PositioningHz,
		"hub_capacity":   h.Capacity(),
		"udp_dest":       cfg.UDP.Dest,
		"fault_script":   cfg.Faults.Script,
		"max_step":       cfg.Fusion.MaxStep.String(),
	})

	a := &app{cfg: cfg, hub: h, orch: orch, status: status}

	if cfg.UDP.Dest != "" {
		b, err := udp.NewBroadcaster(cfg.UDP.Dest)
		if err != nil {
			return nil, err
		}
		a.udp = b
		a.sink = udp.NewSink(b, m)
	}

	a.handler = web.Handler(web.Options{
		Status:       status,
		Logs:         logs,
		Hub:          h,
		Commands:     orch,
		Anomaly:      cell,
		Metrics:      m,
		ConfigPath:   configPath,
		WriteTimeout: cfg.Server.WriteTimeout,
		Debug:        cfg.Logging.Debug,
	})

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		if a.udp != nil {
			_ = a.udp.Close()
		}
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	a.ln = ln
	return a, nil
}

func (a *app) addr() string { return a.ln.Addr().String() }

// run blocks until ctx is done or a component fails. A clean shutdown
// returns nil.
func (a *app) run(ctx context.Context) error {
	if a.udp != nil {
		defer a.udp.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Subscribe before the pipeline starts so the sink sees every estimate.
	if a.sink != nil {
		sub := a.hub.Subscribe("udp " + a.cfg.UDP.Dest)
		g.Go(func() error { return a.sink.Run(gctx, sub) })
	}
	g.Go(func() error {
		// Closing the hub lets stream and UDP subscribers drain and exit.
		defer a.hub.Close()
		return a.orch.Run(gctx)
	})
	g.Go(func() error {
		return web.ServeListener(gctx, a.ln, a.handler)
	})

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Package pipeline runs the simulators, the fusion filter and the estimate
// hub from a single goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fusion-telemetry/internal/anomaly"
	"fusion-telemetry/internal/command"
	"fusion-telemetry/internal/fusion"
	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/metrics"
	"fusion-telemetry/internal/sim"
	"fusion-telemetry/internal/telemetry"
	"fusion-telemetry/internal/timeutil"
)

const defaultCommandBuffer = 256

var (
	ErrQueueFull     = errors.New("pipeline: command queue full")
	ErrTickerStopped = errors.New("pipeline: ticker stopped")
)

// Observer is told about every estimate after it is published.
type Observer interface {
	ObserveEstimate(est telemetry.FusedEstimate, receivers int, alpha float64)
}

type Config struct {
	// Script replays scripted commands by elapsed run time. Optional.
	Script *sim.FaultTimeline
	// CommandBuffer bounds the command queue; Submit fails fast when full.
	CommandBuffer int
}

type Deps struct {
	Inertial    *sim.InertialSim
	Positioning *sim.PositioningSim
	Filter      *fusion.Filter
	Hub         *hub.Hub[telemetry.FusedEstimate]
	Anomaly     *anomaly.Cell
	Clock       timeutil.Clock
	Metrics     *metrics.Metrics
	Observer    Observer
}

type Orchestrator struct {
	cfg      Config
	imu      *sim.InertialSim
	gps      *sim.PositioningSim
	filter   *fusion.Filter
	hub      *hub.Hub[telemetry.FusedEstimate]
	anomaly  *anomaly.Cell
	clock    timeutil.Clock
	metrics  *metrics.Metrics
	observer Observer

	commands chan command.Command
}

func New(cfg Config, d Deps) (*Orchestrator, error) {
	if d.Inertial == nil {
		return nil, fmt.Errorf("pipeline: inertial simulator is required")
	}
	if d.Positioning == nil {
		return nil, fmt.Errorf("pipeline: positioning simulator is required")
	}
	if d.Filter == nil {
		return nil, fmt.Errorf("pipeline: filter is required")
	}
	if d.Hub == nil {
		return nil, fmt.Errorf("pipeline: hub is required")
	}
	if d.Anomaly == nil {
		d.Anomaly = &anomaly.Cell{}
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = defaultCommandBuffer
	}
	return &Orchestrator{
		cfg:      cfg,
		imu:      d.Inertial,
		gps:      d.Positioning,
		filter:   d.Filter,
		hub:      d.Hub,
		anomaly:  d.Anomaly,
		clock:    timeutil.OrReal(d.Clock),
		metrics:  d.Metrics,
		observer: d.Observer,
		commands: make(chan command.Command, cfg.CommandBuffer),
	}, nil
}

// Submit queues cmd for the run loop without blocking. It is safe for
// concurrent use.
func (o *Orchestrator) Submit(cmd command.Command) error {
	if cmd == nil {
		return fmt.Errorf("pipeline: nil command")
	}
	select {
	case o.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drives the pipeline until ctx is done or the hub is closed. It must be
// called at most once.
func (o *Orchestrator) Run(ctx context.Context) error {
	start := o.clock.Now()
	imuTick := o.clock.NewTicker(o.imu.Period())
	defer imuTick.Stop()
	gpsTick := o.clock.NewTicker(o.gps.Period())
	defer gpsTick.Stop()

	log.Printf("pipeline started inertial=%s positioning=%s alpha=%.3f", o.imu.Period(), o.gps.Period(), o.filter.Alpha())

	for {
		select {
		case <-ctx.Done():
			log.Printf("pipeline stopping: %v", ctx.Err())
			return ctx.Err()

		case _, ok := <-imuTick.C():
			if !ok {
				return fmt.Errorf("inertial: %w", ErrTickerStopped)
			}
			o.runScript(o.clock.Since(start))
			if err := o.fuse(); err != nil {
				return err
			}

		case _, ok := <-gpsTick.C():
			if !ok {
				return fmt.Errorf("positioning: %w", ErrTickerStopped)
			}
			// Only the ground track advances here; every inertial tick reads
			// a fresh fix so positioning faults show up immediately.
			o.gps.Tick()

		case cmd := <-o.commands:
			o.apply(cmd)
		}
	}
}

func (o *Orchestrator) fuse() error {
	est := o.filter.Update(o.imu.Tick(), o.gps.Sample())
	if score, ok := o.anomaly.TryLoad(); ok {
		est = est.WithAnomalyScore(score)
	}

	n, err := o.hub.Publish(est)
	if err != nil {
		return fmt.Errorf("pipeline: publish: %w", err)
	}
	alpha := o.filter.Alpha()
	o.metrics.ObserveEstimate(est.Confidence, est.SystemHealth, alpha, n)
	if o.observer != nil {
		o.observer.ObserveEstimate(est, n, alpha)
	}
	return nil
}

func (o *Orchestrator) runScript(elapsed time.Duration) {
	if o.cfg.Script == nil {
		return
	}
	for _, tag := range o.cfg.Script.Due(elapsed) {
		log.Printf("fault script step t=%s command=%s", elapsed.Truncate(time.Millisecond), tag)
		o.apply(command.Parse(tag))
	}
}

func (o *Orchestrator) apply(cmd command.Command) {
	switch c := cmd.(type) {
	case command.InertialFault:
		o.imu.InjectFault(c.Fault)
	case command.PositioningFault:
		o.gps.InjectFault(c.Fault)
	case command.Reset:
		o.imu.ResetFaults()
		o.gps.ResetFaults()
	case command.SetAlpha:
		o.filter.SetAlpha(c.Alpha)
		log.Printf("filter alpha=%.3f", o.filter.Alpha())
	case command.Unrecognized:
		log.Printf("command ignored: unknown tag=%q", c.Raw)
		o.metrics.CommandUnrecognized()
		return
	default:
		log.Printf("command ignored: unhandled type %T", cmd)
		o.metrics.CommandUnrecognized()
		return
	}
	log.Printf("command applied tag=%s", cmd.Tag())
	o.metrics.CommandApplied(string(cmd.Tag()))
}

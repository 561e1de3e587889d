package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-telemetry/internal/anomaly"
	"fusion-telemetry/internal/command"
	"fusion-telemetry/internal/fusion"
	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/metrics"
	"fusion-telemetry/internal/sim"
	"fusion-telemetry/internal/telemetry"
	"fusion-telemetry/internal/timeutil"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu     sync.Mutex
	alphas []float64
	seen   chan struct{}
}

func (r *recordingObserver) ObserveEstimate(_ telemetry.FusedEstimate, _ int, alpha float64) {
	r.mu.Lock()
	r.alphas = append(r.alphas, alpha)
	r.mu.Unlock()
	select {
	case r.seen <- struct{}{}:
	default:
	}
}

func (r *recordingObserver) lastAlpha() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.alphas) == 0 {
		return -1
	}
	return r.alphas[len(r.alphas)-1]
}

type harness struct {
	clk  *timeutil.MockClock
	imu  *sim.InertialSim
	gps  *sim.PositioningSim
	filt *fusion.Filter
	hub  *hub.Hub[telemetry.FusedEstimate]
	cell *anomaly.Cell
	obs  *recordingObserver
	orch *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := timeutil.NewMockClock(t0)
	h := &harness{
		clk:  clk,
		imu:  sim.NewInertialSim(sim.InertialConfig{Clock: clk}, sim.NewRand(1)),
		gps:  sim.NewPositioningSim(sim.PositioningConfig{Clock: clk}, sim.NewRand(2)),
		filt: fusion.New(fusion.Config{Alpha: fusion.DefaultAlpha, Clock: clk}),
		hub:  hub.New[telemetry.FusedEstimate](16),
		cell: &anomaly.Cell{},
		obs:  &recordingObserver{seen: make(chan struct{}, 1)},
	}
	orch, err := New(cfg, Deps{
		Inertial:    h.imu,
		Positioning: h.gps,
		Filter:      h.filt,
		Hub:         h.hub,
		Anomaly:     h.cell,
		Clock:       clk,
		Metrics:     metrics.New(),
		Observer:    h.obs,
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

// start runs the orchestrator and waits until both tickers exist.
func (h *harness) start(t *testing.T) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.clk.TickerCount() < 2 {
		if time.Now().After(deadline) {
			stop()
			t.Fatalf("orchestrator did not start its tickers")
		}
		time.Sleep(time.Millisecond)
	}
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatalf("orchestrator did not stop")
			return nil
		}
	}
}

func recv(t *testing.T, sub *hub.Subscriber[telemetry.FusedEstimate]) telemetry.FusedEstimate {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	est, err := sub.Recv(ctx)
	require.NoError(t, err)
	return est
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.EqualError(t, err, "pipeline: inertial simulator is required")

	_, err = New(Config{}, Deps{Inertial: sim.NewInertialSim(sim.InertialConfig{}, nil)})
	require.EqualError(t, err, "pipeline: positioning simulator is required")
}

func TestRun_PublishesOneEstimatePerInertialTick(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.hub.Subscribe("test")
	defer sub.Close()
	stop := h.start(t)

	var prev time.Time
	for i := 0; i < 10; i++ {
		h.clk.Advance(sim.DefaultInertialPeriod)
		est := recv(t, sub)
		if i > 0 && !est.Timestamp.After(prev) {
			t.Fatalf("estimate %d timestamp %s not after %s", i, est.Timestamp, prev)
		}
		prev = est.Timestamp
		assert.InDelta(t, 1.0, est.Orientation.Norm(), 1e-6)
		assert.Nil(t, est.AnomalyScore)
	}

	require.ErrorIs(t, stop(), context.Canceled)
}

func TestRun_FusesCurrentPositioningReading(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.hub.Subscribe("test")
	defer sub.Close()
	stop := h.start(t)

	h.clk.Advance(sim.DefaultInertialPeriod)
	est := recv(t, sub)
	require.NoError(t, ignoreCanceled(stop()))

	// No positioning tick has fired yet; the fix is a fresh reading of the
	// starting truth at the circuit center rather than 0,0.
	center := sim.DefaultCircuit()
	assert.InDelta(t, center.CenterLatDeg, est.Position.Latitude, 0.01)
	assert.InDelta(t, center.CenterLonDeg, est.Position.Longitude, 0.01)
}

func TestRun_SignalLossReachesNextEstimate(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.hub.Subscribe("test")
	defer sub.Close()
	stop := h.start(t)

	h.clk.Advance(sim.DefaultInertialPeriod)
	est := recv(t, sub)
	require.Greater(t, est.SystemHealth, 0.9)

	require.NoError(t, h.orch.Submit(command.Parse("signal_loss")))

	// Stay inside one positioning period so only the fault can explain the drop.
	for i := 0; i < 40; i++ {
		h.clk.Advance(sim.DefaultInertialPeriod)
		est = recv(t, sub)
		if est.SystemHealth < 0.6 {
			break
		}
	}
	require.NoError(t, ignoreCanceled(stop()))

	assert.Less(t, est.SystemHealth, 0.6)
	assert.LessOrEqual(t, est.Confidence, 0.6+0.4*0.3+1e-9)
}

func TestFuse_PositionJumpShiftsFixBeforeNextTick(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.hub.Subscribe("test")
	defer sub.Close()

	fuse := func() telemetry.FusedEstimate {
		t.Helper()
		h.clk.Advance(sim.DefaultInertialPeriod)
		require.NoError(t, h.orch.fuse())
		return recv(t, sub)
	}
	for i := 0; i < 5; i++ {
		fuse()
	}
	before := h.gps.TruePosition()

	// Jumps add up until the next Tick; accumulate well past fix noise.
	jumped := before
	for i := 0; i < 100 && distDeg(jumped, before) < 3e-4; i++ {
		h.orch.apply(command.Parse("position_jump"))
		jumped = h.gps.TruePosition()
	}
	require.GreaterOrEqual(t, distDeg(jumped, before), 3e-4)

	prev := fuse()
	for i := 0; i < 30; i++ {
		prev = fuse()
	}
	assert.Equal(t, jumped, h.gps.TruePosition(), "truth must hold until the next positioning tick")
	assert.Less(t, distDeg(prev.Position, jumped), 1e-4)
	assert.Greater(t, distDeg(prev.Position, before), 2e-4)
}

func TestFuse_PositionJumpMovesFirstEstimateAfterInjection(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.hub.Subscribe("test")
	defer sub.Close()

	var last telemetry.FusedEstimate
	for i := 0; i < 10; i++ {
		h.clk.Advance(sim.DefaultInertialPeriod)
		require.NoError(t, h.orch.fuse())
		last = recv(t, sub)
	}
	before := h.gps.TruePosition()
	jumped := before
	for i := 0; i < 100 && distDeg(jumped, before) < 5e-4; i++ {
		h.orch.apply(command.Parse("position_jump"))
		jumped = h.gps.TruePosition()
	}

	h.clk.Advance(sim.DefaultInertialPeriod)
	require.NoError(t, h.orch.fuse())
	next := recv(t, sub)

	// One low-pass step covers 30% of the displacement.
	assert.Less(t, distDeg(next.Position, jumped), distDeg(last.Position, jumped))
}

func distDeg(a, b telemetry.Position) float64 {
	return math.Hypot(a.Latitude-b.Latitude, a.Longitude-b.Longitude)
}

func TestRun_MergesAnomalyScore(t *testing.T) {
	h := newHarness(t, Config{})
	require.True(t, h.cell.Store(0.7, t0))
	sub := h.hub.Subscribe("test")
	defer sub.Close()
	stop := h.start(t)

	h.clk.Advance(sim.DefaultInertialPeriod)
	est := recv(t, sub)
	require.NotNil(t, est.AnomalyScore)
	assert.Equal(t, 0.7, *est.AnomalyScore)

	require.NoError(t, ignoreCanceled(stop()))
}

func TestRun_AppliesSubmittedCommands(t *testing.T) {
	h := newHarness(t, Config{})
	sub := h.hub.Subscribe("test")
	defer sub.Close()
	stop := h.start(t)

	require.NoError(t, h.orch.Submit(command.SetAlpha{Alpha: 0.5}))

	deadline := time.Now().Add(2 * time.Second)
	for h.obs.lastAlpha() != 0.5 {
		if time.Now().After(deadline) {
			t.Fatalf("alpha never observed as 0.5, last %v", h.obs.lastAlpha())
		}
		h.clk.Advance(sim.DefaultInertialPeriod)
		recv(t, sub)
	}

	require.NoError(t, ignoreCanceled(stop()))
}

func TestRun_FaultScriptFiresByElapsedTime(t *testing.T) {
	tl, err := sim.NewFaultTimeline(sim.FaultScript{
		Version: 1,
		Steps: []sim.FaultStep{
			{T: 40 * time.Millisecond, Command: "high_noise"},
		},
	})
	require.NoError(t, err)

	h := newHarness(t, Config{Script: tl})
	sub := h.hub.Subscribe("test")
	defer sub.Close()
	stop := h.start(t)

	for i := 0; i < 3; i++ {
		h.clk.Advance(sim.DefaultInertialPeriod)
		recv(t, sub)
	}
	require.NoError(t, ignoreCanceled(stop()))

	accel, gyro := h.imu.NoiseStd()
	assert.Equal(t, 0.5, accel)
	assert.Equal(t, 0.05, gyro)
}

func TestRun_ReturnsWhenHubClosed(t *testing.T) {
	h := newHarness(t, Config{})
	h.hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.clk.TickerCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.clk.Advance(sim.DefaultInertialPeriod)

	select {
	case err := <-done:
		require.ErrorIs(t, err, hub.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after hub close")
	}
}

func TestRun_PublishWithoutSubscribersIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{})
	stop := h.start(t)

	for i := 0; i < 5; i++ {
		h.clk.Advance(sim.DefaultInertialPeriod)
		select {
		case <-h.obs.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not observed", i)
		}
	}
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestApply_UnrecognizedLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, Config{})

	accel, gyro := h.imu.NoiseStd()
	hdop, sats, noise := h.gps.Quality()
	alpha := h.filt.Alpha()

	h.orch.apply(command.Parse("warp_drive"))
	h.orch.apply(command.Unrecognized{Raw: ""})

	a2, g2 := h.imu.NoiseStd()
	hdop2, sats2, noise2 := h.gps.Quality()
	assert.Equal(t, accel, a2)
	assert.Equal(t, gyro, g2)
	assert.Equal(t, hdop, hdop2)
	assert.Equal(t, sats, sats2)
	assert.Equal(t, noise, noise2)
	assert.Equal(t, alpha, h.filt.Alpha())
}

func TestApply_ResetRestoresBothSimulators(t *testing.T) {
	h := newHarness(t, Config{})

	h.orch.apply(command.Parse("high_noise"))
	h.orch.apply(command.Parse("poor_accuracy"))
	accel, _ := h.imu.NoiseStd()
	hdop, _, _ := h.gps.Quality()
	require.Equal(t, 0.5, accel)
	require.Greater(t, hdop, 3.0)

	h.orch.apply(command.Parse("reset"))
	accel, gyro := h.imu.NoiseStd()
	assert.Equal(t, sim.DefaultAccelNoiseStd, accel)
	assert.Equal(t, sim.DefaultGyroNoiseStd, gyro)
	hdop, sats, _ := h.gps.Quality()
	assert.Less(t, hdop, 3.0)
	assert.GreaterOrEqual(t, sats, 4)
}

func TestSubmit_QueueFull(t *testing.T) {
	h := newHarness(t, Config{CommandBuffer: 1})
	require.NoError(t, h.orch.Submit(command.Reset{}))
	err := h.orch.Submit(command.Reset{})
	require.True(t, errors.Is(err, ErrQueueFull), "got %v", err)
	require.Error(t, h.orch.Submit(nil))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

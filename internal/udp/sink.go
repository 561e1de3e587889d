package udp

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/metrics"
	"fusion-telemetry/internal/telemetry"
)

// sendErrLogEvery throttles send-failure logging on a dead destination.
const sendErrLogEvery = 100

// Sink forwards every estimate from a hub subscription to a Broadcaster.
type Sink struct {
	b       *Broadcaster
	metrics *metrics.Metrics

	sent     uint64
	failures uint64
}

func NewSink(b *Broadcaster, m *metrics.Metrics) *Sink {
	return &Sink{b: b, metrics: m}
}

// Run sends estimates until ctx is done or the hub closes. Send failures are
// logged and counted; they never stop the sink. It returns nil when the hub
// closes.
func (s *Sink) Run(ctx context.Context, sub *hub.Subscriber[telemetry.FusedEstimate]) error {
	defer sub.Close()
	log.Printf("udp sink started dest=%s", s.b.Dest())
	for {
		est, err := sub.Recv(ctx)
		if err != nil {
			var lag *hub.LagError
			switch {
			case errors.As(err, &lag):
				log.Printf("udp sink lagged dest=%s skipped=%d", s.b.Dest(), lag.Skipped)
				s.metrics.SubscriberLagged(lag.Skipped)
				continue
			case errors.Is(err, hub.ErrClosed):
				log.Printf("udp sink stopped dest=%s sent=%d failures=%d", s.b.Dest(), s.sent, s.failures)
				return nil
			default:
				return err
			}
		}
		s.send(est)
	}
}

func (s *Sink) send(est telemetry.FusedEstimate) {
	payload, err := json.Marshal(est)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.b.Send(payload); err != nil {
		s.fail(err)
		return
	}
	s.sent++
}

func (s *Sink) fail(err error) {
	s.failures++
	s.metrics.UDPSendFailed()
	if s.failures == 1 || s.failures%sendErrLogEvery == 0 {
		log.Printf("udp send failed dest=%s failures=%d err=%v", s.b.Dest(), s.failures, err)
	}
}

package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"fusion-telemetry/internal/command"
	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/telemetry"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxInboundMessage   = 64 << 10
)

// connectionFrame greets every new stream client.
type connectionFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

// laggedFrame tells a client how many estimates it missed.
type laggedFrame struct {
	Type    string `json:"type"`
	Skipped uint64 `json:"skipped"`
}

// handleStream upgrades to a WebSocket, streams every published estimate
// and accepts envelopes from the client. One slow client never holds up the
// pipeline or other clients; it is sent a lagged frame and carries on.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("ws accept failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxInboundMessage)

	sub := s.hub.Subscribe("ws " + r.RemoteAddr)
	defer sub.Close()
	source := fmt.Sprintf("ws id=%s", sub.ID())
	log.Printf("ws connected id=%s remote=%s subscribers=%d", sub.ID(), r.RemoteAddr, s.hub.Len())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	err = s.write(ctx, conn, connectionFrame{
		Type:      command.TypeConnection,
		Status:    "connected",
		Message:   "streaming fused telemetry",
		ID:        sub.ID(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("ws welcome failed id=%s err=%v", sub.ID(), err)
		return
	}

	go func() {
		defer cancel()
		s.readLoop(ctx, conn, source)
	}()

	err = s.writeLoop(ctx, conn, sub)
	switch {
	case errors.Is(err, hub.ErrClosed):
		log.Printf("ws closing id=%s: hub closed", sub.ID())
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case ctx.Err() != nil:
		log.Printf("ws disconnected id=%s", sub.ID())
	default:
		log.Printf("ws write failed id=%s err=%v", sub.ID(), err)
	}
}

func (s *server) readLoop(ctx context.Context, conn *websocket.Conn, source string) {
	for {
		typ, b, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.debugf("ws read ended %s err=%v", source, err)
			}
			return
		}
		if typ != websocket.MessageText {
			s.debugf("ws binary message ignored %s", source)
			continue
		}
		env, err := command.DecodeEnvelope(b)
		if err != nil {
			s.debugf("ws message ignored %s err=%v", source, err)
			continue
		}
		// Submit failures are logged by dispatch and never end the connection.
		_, _, _ = s.dispatch(env, source)
	}
}

func (s *server) writeLoop(ctx context.Context, conn *websocket.Conn, sub *hub.Subscriber[telemetry.FusedEstimate]) error {
	for {
		frame, err := s.nextFrame(ctx, sub)
		if err != nil {
			return err
		}
		if err := s.write(ctx, conn, frame); err != nil {
			return err
		}
	}
}

// nextFrame returns the next estimate, or a laggedFrame when the subscriber
// fell behind the hub.
func (s *server) nextFrame(ctx context.Context, sub *hub.Subscriber[telemetry.FusedEstimate]) (any, error) {
	est, err := sub.Recv(ctx)
	if err == nil {
		return est, nil
	}
	var lag *hub.LagError
	if errors.As(err, &lag) {
		log.Printf("ws subscriber lagged id=%s skipped=%d", sub.ID(), lag.Skipped)
		s.metrics.SubscriberLagged(lag.Skipped)
		return laggedFrame{Type: command.TypeLagged, Skipped: lag.Skipped}, nil
	}
	return nil, err
}

func (s *server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

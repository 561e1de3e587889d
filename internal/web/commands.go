package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"fusion-telemetry/internal/command"
)

const maxEnvelopeBytes = 64 << 10

// CommandSubmitter queues commands for the pipeline. Submit must not block.
type CommandSubmitter interface {
	Submit(cmd command.Command) error
}

// Dispatch results.
const (
	resultQueued  = "queued"
	resultStored  = "stored"
	resultIgnored = "ignored"
	resultAlive   = "alive"
)

var errNoCommandSink = errors.New("commands unavailable")

// dispatch routes one inbound envelope. Envelopes that carry nothing
// actionable are ignored, not errors; only a failed Submit is an error.
func (s *server) dispatch(env command.Envelope, source string) (result string, tag string, err error) {
	switch env.Type {
	case command.TypeCommand:
		cmd, _ := env.Command()
		tag = string(cmd.Tag())
		if s.commands == nil {
			return "", tag, errNoCommandSink
		}
		if err := s.commands.Submit(cmd); err != nil {
			log.Printf("command rejected source=%s tag=%q err=%v", source, tag, err)
			return "", tag, err
		}
		s.debugf("command queued source=%s tag=%q", source, tag)
		return resultQueued, tag, nil

	case command.TypeAnomaly:
		score, ok := env.AnomalyScore()
		if !ok || s.anomaly == nil || !s.anomaly.Store(score, time.Now()) {
			s.debugf("anomaly score ignored source=%s", source)
			return resultIgnored, "", nil
		}
		s.metrics.AnomalyScoreReceived()
		return resultStored, "", nil

	case command.TypeHeartbeat:
		s.debugf("heartbeat source=%s", source)
		return resultAlive, "", nil

	default:
		s.debugf("message ignored source=%s type=%q", source, env.Type)
		return resultIgnored, "", nil
	}
}

type dispatchResponse struct {
	Result string `json:"result"`
	Tag    string `json:"tag,omitempty"`
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvelopeBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return b, true
}

// handleCommand accepts the same command envelope as the WebSocket.
func (s *server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env, err := command.DecodeEnvelope(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if env.Type != command.TypeCommand {
		http.Error(w, fmt.Sprintf("type must be %q", command.TypeCommand), http.StatusBadRequest)
		return
	}
	s.respondDispatch(w, env, "http "+r.RemoteAddr)
}

// handleAnomaly accepts {"score":0.42}; the type field is optional.
func (s *server) handleAnomaly(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var env command.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, fmt.Sprintf("%v: %v", command.ErrMalformed, err), http.StatusBadRequest)
		return
	}
	if env.Type == "" {
		env.Type = command.TypeAnomaly
	}
	if env.Type != command.TypeAnomaly {
		http.Error(w, fmt.Sprintf("type must be %q", command.TypeAnomaly), http.StatusBadRequest)
		return
	}
	if _, ok := env.AnomalyScore(); !ok {
		http.Error(w, "score must be a finite number", http.StatusBadRequest)
		return
	}
	s.respondDispatch(w, env, "http "+r.RemoteAddr)
}

func (s *server) respondDispatch(w http.ResponseWriter, env command.Envelope, source string) {
	result, tag, err := s.dispatch(env, source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	code := http.StatusOK
	if result == resultQueued {
		code = http.StatusAccepted
	}
	writeJSON(w, code, dispatchResponse{Result: result, Tag: tag})
}

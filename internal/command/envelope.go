package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Envelope types.
const (
	TypeCommand    = "command"
	TypeAnomaly    = "anomaly_prediction"
	TypeHeartbeat  = "heartbeat"
	TypeConnection = "connection"
	TypeLagged     = "lagged"
)

const (
	ActionInjectFault = "inject_fault"
	ActionReset       = "reset"
	ActionSetAlpha    = "set_alpha"
)

var ErrMalformed = errors.New("malformed message")

// Envelope is the JSON object exchanged with clients:
//
//	{"type":"command","action":"inject_fault","parameters":{"fault_type":"accel_spike"}}
//	{"type":"command","action":"set_alpha","parameters":{"alpha":0.95}}
//	{"type":"anomaly_prediction","score":0.42}
//	{"type":"heartbeat"}
type Envelope struct {
	Type       string      `json:"type"`
	Action     string      `json:"action,omitempty"`
	Parameters *Parameters `json:"parameters,omitempty"`
	Score      *float64    `json:"score,omitempty"`
}

type Parameters struct {
	FaultType string   `json:"fault_type,omitempty"`
	Alpha     *float64 `json:"alpha,omitempty"`
}

// DecodeEnvelope parses b. A missing type is malformed.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	e.Type = strings.TrimSpace(e.Type)
	if e.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return e, nil
}

// Command converts a command envelope. ok is false for other envelope types.
func (e Envelope) Command() (cmd Command, ok bool) {
	if e.Type != TypeCommand {
		return nil, false
	}
	var p Parameters
	if e.Parameters != nil {
		p = *e.Parameters
	}
	switch action := strings.TrimSpace(e.Action); action {
	case ActionInjectFault:
		return Parse(p.FaultType), true
	case ActionReset:
		return Reset{}, true
	case ActionSetAlpha:
		if p.Alpha == nil || math.IsNaN(*p.Alpha) || math.IsInf(*p.Alpha, 0) {
			return Unrecognized{Raw: action}, true
		}
		return SetAlpha{Alpha: *p.Alpha}, true
	default:
		return Unrecognized{Raw: action}, true
	}
}

// AnomalyScore returns the score carried by an anomaly_prediction envelope.
// Non-finite scores are rejected.
func (e Envelope) AnomalyScore() (float64, bool) {
	if e.Type != TypeAnomaly || e.Score == nil {
		return 0, false
	}
	s := *e.Score
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, false
	}
	return s, true
}

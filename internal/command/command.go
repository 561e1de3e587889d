// Package command defines the operator command vocabulary and its JSON
// envelope.
package command

import (
	"strings"

	"fusion-telemetry/internal/sim"
)

// Tag is the wire name of a command.
type Tag string

const (
	TagAccelSpike   Tag = "accel_spike"
	TagGyroSpike    Tag = "gyro_spike"
	TagHighNoise    Tag = "high_noise"
	TagSignalLoss   Tag = "signal_loss"
	TagPoorAccuracy Tag = "poor_accuracy"
	TagPositionJump Tag = "position_jump"
	TagReset        Tag = "reset"
	TagSetAlpha     Tag = "set_alpha"
)

// Command is one of InertialFault, PositioningFault, Reset, SetAlpha or
// Unrecognized. The set is closed.
type Command interface {
	Tag() Tag
	isCommand()
}

type InertialFault struct {
	Fault sim.InertialFault
}

func (c InertialFault) Tag() Tag { return Tag(c.Fault.String()) }
func (InertialFault) isCommand() {}

type PositioningFault struct {
	Fault sim.PositioningFault
}

func (c PositioningFault) Tag() Tag { return Tag(c.Fault.String()) }
func (PositioningFault) isCommand() {}

// Reset clears faults on both simulators.
type Reset struct{}

func (Reset) Tag() Tag    { return TagReset }
func (Reset) isCommand() {}

// SetAlpha retunes the fusion filter's gyro trust.
type SetAlpha struct {
	Alpha float64
}

func (SetAlpha) Tag() Tag    { return TagSetAlpha }
func (SetAlpha) isCommand() {}

// Unrecognized carries a tag outside the vocabulary. It is logged and
// ignored, never an error.
type Unrecognized struct {
	Raw string
}

func (c Unrecognized) Tag() Tag { return Tag(c.Raw) }
func (Unrecognized) isCommand() {}

var byTag = map[Tag]Command{
	TagAccelSpike:   InertialFault{Fault: sim.AccelSpike},
	TagGyroSpike:    InertialFault{Fault: sim.GyroSpike},
	TagHighNoise:    InertialFault{Fault: sim.HighNoise},
	TagSignalLoss:   PositioningFault{Fault: sim.SignalLoss},
	TagPoorAccuracy: PositioningFault{Fault: sim.PoorAccuracy},
	TagPositionJump: PositioningFault{Fault: sim.PositionJump},
	TagReset:        Reset{},
}

// Parse maps a bare fault tag to its command. set_alpha needs a value and is
// only reachable through an Envelope.
func Parse(tag string) Command {
	tag = strings.TrimSpace(tag)
	if c, ok := byTag[Tag(tag)]; ok {
		return c
	}
	return Unrecognized{Raw: tag}
}

// Tags lists the bare tags Parse understands, in a stable order.
func Tags() []Tag {
	return []Tag{
		TagAccelSpike, TagGyroSpike, TagHighNoise,
		TagSignalLoss, TagPoorAccuracy, TagPositionJump,
		TagReset,
	}
}

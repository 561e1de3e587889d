package sim

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FaultScript is a deterministic timeline of fault commands replayed by
// elapsed run time. Times are Go duration strings.
//
// YAML schema (v1):
//
//	version: 1
//	loop: true
//	duration: 60s
//	steps:
//	  - t: 5s
//	    command: accel_spike
//	  - t: 20s
//	    command: signal_loss
//	  - t: 40s
//	    command: reset
//
// If Duration is zero it is derived from the latest step. Commands are the
// same tags accepted over the wire; unknown tags are reported when fired,
// not when loaded.
type FaultScript struct {
	Version  int           `yaml:"version"`
	Loop     bool          `yaml:"loop"`
	Duration time.Duration `yaml:"duration"`
	Steps    []FaultStep   `yaml:"steps"`
}

type FaultStep struct {
	T       time.Duration `yaml:"t"`
	Command string        `yaml:"command"`
}

// LoadFaultScript reads and unmarshals a YAML fault script from path.
func LoadFaultScript(path string) (FaultScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return FaultScript{}, err
	}
	return ParseFaultScriptYAML(b)
}

func ParseFaultScriptYAML(b []byte) (FaultScript, error) {
	var s FaultScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return FaultScript{}, err
	}
	return s, nil
}

// FaultTimeline is the validated runtime form of a FaultScript.
type FaultTimeline struct {
	script   FaultScript
	duration time.Duration

	next  int
	epoch time.Duration
}

// NewFaultTimeline validates script.
func NewFaultTimeline(script FaultScript) (*FaultTimeline, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported fault script version %d", script.Version)
	}
	if len(script.Steps) == 0 {
		return nil, fmt.Errorf("steps is required")
	}
	maxT := time.Duration(0)
	for i := range script.Steps {
		st := &script.Steps[i]
		st.Command = strings.TrimSpace(st.Command)
		if st.T < 0 {
			return nil, fmt.Errorf("steps[%d].t must be >= 0", i)
		}
		if i > 0 && st.T < script.Steps[i-1].T {
			return nil, fmt.Errorf("steps must be sorted by t (index %d)", i)
		}
		if st.Command == "" {
			return nil, fmt.Errorf("steps[%d].command is required", i)
		}
		if st.T > maxT {
			maxT = st.T
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = maxT
	}
	if dur < maxT {
		return nil, fmt.Errorf("duration %s is shorter than last step at %s", dur, maxT)
	}
	if script.Loop && dur <= 0 {
		return nil, fmt.Errorf("duration must be > 0 when loop is true")
	}
	return &FaultTimeline{script: script, duration: dur}, nil
}

func (tl *FaultTimeline) Duration() time.Duration { return tl.duration }

// Due returns, in order, the commands whose offsets have been reached at
// elapsed and have not been returned before. A looping timeline that falls
// several cycles behind replays only the current cycle. elapsed must not
// decrease between calls.
func (tl *FaultTimeline) Due(elapsed time.Duration) []string {
	var out []string
	for {
		rel := elapsed - tl.epoch
		steps := tl.script.Steps
		for tl.next < len(steps) && steps[tl.next].T <= rel {
			out = append(out, steps[tl.next].Command)
			tl.next++
		}
		if tl.next < len(steps) || !tl.script.Loop || rel < tl.duration {
			return out
		}
		// Whole cycles missed during a stall collapse into the latest one.
		tl.epoch += (rel / tl.duration) * tl.duration
		tl.next = 0
	}
}

// Done reports whether a non-looping timeline has fired every step.
func (tl *FaultTimeline) Done() bool {
	return !tl.script.Loop && tl.next >= len(tl.script.Steps)
}

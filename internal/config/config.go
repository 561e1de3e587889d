package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sensors SensorsConfig `yaml:"sensors"`
	Fusion  FusionConfig  `yaml:"fusion"`
	Hub     HubConfig     `yaml:"hub"`
	UDP     UDPConfig     `yaml:"udp"`
	Faults  FaultsConfig  `yaml:"faults"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// WriteTimeout bounds a single WebSocket frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SensorsConfig struct {
	InertialHz    float64 `yaml:"inertial_hz"`
	PositioningHz float64 `yaml:"positioning_hz"`
	// Seed for the simulators' generators. Zero picks a random seed.
	Seed uint64 `yaml:"seed"`
}

type FusionConfig struct {
	// Alpha is a pointer so an explicit 0 (accelerometer only) survives
	// defaulting.
	Alpha     *float64      `yaml:"alpha"`
	MaxStep   time.Duration `yaml:"max_step"`
	DriftGain *float64      `yaml:"drift_gain"`
}

type HubConfig struct {
	Capacity int `yaml:"capacity"`
}

type UDPConfig struct {
	// Dest is host:port. Empty disables the UDP sink.
	Dest string `yaml:"dest"`
}

type FaultsConfig struct {
	Script string `yaml:"script"`
}

type LoggingConfig struct {
	Debug       bool `yaml:"debug"`
	BufferLines int  `yaml:"buffer_lines"`
}

const (
	DefaultListen        = "127.0.0.1:8080"
	DefaultInertialHz    = 50.0
	DefaultPositioningHz = 1.0
	DefaultAlpha         = 0.98
	DefaultDriftGain     = 0.01
	DefaultHubCapacity   = 100
	DefaultWriteTimeout  = 5 * time.Second
	DefaultLogLines      = 500

	maxSensorHz = 1000.0
)

// Default returns a validated configuration with every default applied.
func Default() Config {
	var cfg Config
	if err := cfg.applyDefaultsAndValidate(); err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown fields, then applies defaults.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, describeDecodeError(err)
	}
	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var yamlLinePrefix = regexp.MustCompile(`^line \d+: `)

func describeDecodeError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	msgs := make([]string, 0, len(te.Errors))
	unknown := true
	for _, e := range te.Errors {
		msg := yamlLinePrefix.ReplaceAllString(e, "")
		if !strings.HasPrefix(msg, "field ") || !strings.Contains(msg, " not found in type ") {
			unknown = false
		}
		msgs = append(msgs, msg)
	}
	if unknown {
		return fmt.Errorf("config contains unknown fields: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func (cfg *Config) applyDefaultsAndValidate() error {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
		return fmt.Errorf("server.listen must be host:port: %v", err)
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.WriteTimeout < 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}

	if cfg.Sensors.InertialHz == 0 {
		cfg.Sensors.InertialHz = DefaultInertialHz
	}
	if cfg.Sensors.PositioningHz == 0 {
		cfg.Sensors.PositioningHz = DefaultPositioningHz
	}
	if !(cfg.Sensors.InertialHz > 0) || cfg.Sensors.InertialHz > maxSensorHz {
		return fmt.Errorf("sensors.inertial_hz must be within (0,%g]", maxSensorHz)
	}
	if !(cfg.Sensors.PositioningHz > 0) || cfg.Sensors.PositioningHz > maxSensorHz {
		return fmt.Errorf("sensors.positioning_hz must be within (0,%g]", maxSensorHz)
	}

	if cfg.Fusion.Alpha == nil {
		a := DefaultAlpha
		cfg.Fusion.Alpha = &a
	}
	if a := *cfg.Fusion.Alpha; math.IsNaN(a) || a < 0 || a > 1 {
		return fmt.Errorf("fusion.alpha must be within [0,1]")
	}
	if cfg.Fusion.MaxStep < 0 {
		return fmt.Errorf("fusion.max_step must be >= 0")
	}
	if cfg.Fusion.DriftGain == nil {
		g := DefaultDriftGain
		cfg.Fusion.DriftGain = &g
	}
	if g := *cfg.Fusion.DriftGain; math.IsNaN(g) || g < 0 || g > 1 {
		return fmt.Errorf("fusion.drift_gain must be within [0,1]")
	}

	if cfg.Hub.Capacity == 0 {
		cfg.Hub.Capacity = DefaultHubCapacity
	}
	if cfg.Hub.Capacity < 0 {
		return fmt.Errorf("hub.capacity must be > 0")
	}

	if cfg.UDP.Dest != "" {
		if _, _, err := net.SplitHostPort(cfg.UDP.Dest); err != nil {
			return fmt.Errorf("udp.dest must be host:port: %v", err)
		}
	}

	if cfg.Logging.BufferLines == 0 {
		cfg.Logging.BufferLines = DefaultLogLines
	}
	if cfg.Logging.BufferLines < 0 {
		return fmt.Errorf("logging.buffer_lines must be > 0")
	}
	return nil
}

// InertialPeriod converts the configured rate into a tick interval.
func (cfg Config) InertialPeriod() time.Duration {
	return hzToPeriod(cfg.Sensors.InertialHz)
}

func (cfg Config) PositioningPeriod() time.Duration {
	return hzToPeriod(cfg.Sensors.PositioningHz)
}

func hzToPeriod(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

// Save validates cfg and writes it to path atomically through a temp file in
// the same directory.
func Save(path string, cfg Config) error {
	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

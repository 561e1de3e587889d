// Package telemetry defines the sensor samples and the fused estimate that
// flow through the pipeline.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"fusion-telemetry/internal/geo"
)

// InertialSample is one accelerometer + gyroscope reading.
type InertialSample struct {
	Timestamp time.Time `json:"timestamp"`
	// Acceleration in m/s², gravity included.
	Acceleration geo.Vector3 `json:"acceleration"`
	// Gyroscope angular rate in rad/s.
	Gyroscope  geo.Vector3 `json:"gyroscope"`
	NoiseLevel float64     `json:"noise_level"`
	Health     float64     `json:"health"`
}

// PositioningSample is one satellite-navigation fix.
type PositioningSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Speed      float64   `json:"speed"`
	Heading    float64   `json:"heading"`
	HDOP       float64   `json:"hdop"`
	Satellites int       `json:"satellites"`
	Health     float64   `json:"health"`
}

// EulerDegrees is encoded as a [roll, pitch, yaw] array on the wire.
type EulerDegrees struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

func (e EulerDegrees) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{e.Roll, e.Pitch, e.Yaw})
}

func (e *EulerDegrees) UnmarshalJSON(b []byte) error {
	var a [3]float64
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("euler_degrees: %w", err)
	}
	e.Roll, e.Pitch, e.Yaw = a[0], a[1], a[2]
	return nil
}

// Position is encoded as a [latitude, longitude, altitude] array on the wire.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{p.Latitude, p.Longitude, p.Altitude})
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var a [3]float64
	if err := json.Unmarshal(b, &a); err != nil {
		return fmt.Errorf("position: %w", err)
	}
	p.Latitude, p.Longitude, p.Altitude = a[0], a[1], a[2]
	return nil
}

// FusedEstimate is published once per inertial tick and never mutated after.
type FusedEstimate struct {
	Timestamp       time.Time      `json:"timestamp"`
	Orientation     geo.Quaternion `json:"orientation"`
	EulerDegrees    EulerDegrees   `json:"euler_degrees"`
	Position        Position       `json:"position"`
	Velocity        geo.Vector3    `json:"velocity"`
	RawAcceleration geo.Vector3    `json:"raw_acceleration"`
	RawGyroscope    geo.Vector3    `json:"raw_gyroscope"`
	GPSSpeed        float64        `json:"gps_speed"`
	GPSHeading      float64        `json:"gps_heading"`
	Confidence      float64        `json:"confidence"`
	SystemHealth    float64        `json:"system_health"`
	AnomalyScore    *float64       `json:"anomaly_score"`
}

// WithAnomalyScore returns a copy of e carrying score clamped to [0,1].
func (e FusedEstimate) WithAnomalyScore(score float64) FusedEstimate {
	s := Clamp01(score)
	e.AnomalyScore = &s
	return e
}

// Clamp01 clamps v into [0,1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

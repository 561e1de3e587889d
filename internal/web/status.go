package web

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"fusion-telemetry/internal/hub"
	"fusion-telemetry/internal/telemetry"
)

// qualityWindow is how many recent confidence values feed the rolling stats.
const qualityWindow = 250

// Status collects what /api/status reports. ObserveEstimate is called from
// the pipeline goroutine; Snapshot from HTTP handlers.
type Status struct {
	startUnixNano int64
	estimates     uint64
	lastTickNano  int64
	alphaBits     uint64
	receivers     int64
	static        atomic.Value // map[string]any
	last          atomic.Value // EstimateSummary

	mu         sync.Mutex
	confidence []float64
	next       int
	filled     bool
}

func NewStatus() *Status {
	s := &Status{confidence: make([]float64, qualityWindow)}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(map[string]any{})
	s.last.Store(EstimateSummary{})
	return s
}

// SetStatic records configuration facts shown alongside live values.
func (s *Status) SetStatic(info map[string]any) {
	if info != nil {
		s.static.Store(info)
	}
}

// SetAlpha records the filter gain before the first estimate arrives.
func (s *Status) SetAlpha(alpha float64) {
	atomic.StoreUint64(&s.alphaBits, math.Float64bits(alpha))
}

func (s *Status) Alpha() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.alphaBits))
}

// ObserveEstimate records one published estimate.
func (s *Status) ObserveEstimate(est telemetry.FusedEstimate, receivers int, alpha float64) {
	atomic.AddUint64(&s.estimates, 1)
	atomic.StoreInt64(&s.lastTickNano, est.Timestamp.UnixNano())
	atomic.StoreInt64(&s.receivers, int64(receivers))
	s.SetAlpha(alpha)
	s.last.Store(EstimateSummary{
		Valid:        true,
		Timestamp:    est.Timestamp.UTC().Format(time.RFC3339Nano),
		EulerDegrees: est.EulerDegrees,
		Position:     est.Position,
		Confidence:   est.Confidence,
		SystemHealth: est.SystemHealth,
		AnomalyScore: est.AnomalyScore,
	})

	s.mu.Lock()
	s.confidence[s.next] = est.Confidence
	s.next = (s.next + 1) % len(s.confidence)
	if s.next == 0 {
		s.filled = true
	}
	s.mu.Unlock()
}

// EstimateSummary is the slice of the latest estimate shown on the status page.
type EstimateSummary struct {
	Valid        bool                   `json:"valid"`
	Timestamp    string                 `json:"timestamp,omitempty"`
	EulerDegrees telemetry.EulerDegrees `json:"euler_degrees"`
	Position     telemetry.Position     `json:"position"`
	Confidence   float64                `json:"confidence"`
	SystemHealth float64                `json:"system_health"`
	AnomalyScore *float64               `json:"anomaly_score"`
}

// QualityStats summarizes recent confidence values.
type QualityStats struct {
	Samples          int     `json:"samples"`
	ConfidenceMean   float64 `json:"confidence_mean"`
	ConfidenceStdDev float64 `json:"confidence_stddev"`
}

type StatusSnapshot struct {
	Service        string               `json:"service"`
	NowUTC         string               `json:"now_utc"`
	UptimeSec      int64                `json:"uptime_sec"`
	EstimatesTotal uint64               `json:"estimates_total"`
	LastTickUTC    string               `json:"last_tick_utc,omitempty"`
	Alpha          float64              `json:"alpha"`
	Receivers      int                  `json:"receivers"`
	Config         map[string]any       `json:"config"`
	Last           EstimateSummary      `json:"last"`
	Quality        QualityStats         `json:"quality"`
	Subscribers    []hub.SubscriberInfo `json:"subscribers"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:        "fusion-telemetry",
		NowUTC:         nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:      int64(nowUTC.Sub(start).Seconds()),
		EstimatesTotal: atomic.LoadUint64(&s.estimates),
		Alpha:          s.Alpha(),
		Receivers:      int(atomic.LoadInt64(&s.receivers)),
		Config:         s.static.Load().(map[string]any),
		Last:           s.last.Load().(EstimateSummary),
		Quality:        s.quality(),
		Subscribers:    []hub.SubscriberInfo{},
	}
	if lastTick := atomic.LoadInt64(&s.lastTickNano); lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}
	return snap
}

func (s *Status) quality() QualityStats {
	s.mu.Lock()
	n := s.next
	if s.filled {
		n = len(s.confidence)
	}
	window := append([]float64(nil), s.confidence[:n]...)
	s.mu.Unlock()

	q := QualityStats{Samples: len(window)}
	switch len(window) {
	case 0:
	case 1:
		q.ConfidenceMean = window[0]
	default:
		q.ConfidenceMean, q.ConfidenceStdDev = stat.MeanStdDev(window, nil)
	}
	return q
}

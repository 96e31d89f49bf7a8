package gridwatch

import (
	"math"
	"time"

	"github.com/vperret/gridpilot/core/logger"
	"github.com/vperret/gridpilot/core/model"
)

// Config holds the detector tunables.
type Config struct {
	// ConfirmCount is the number of consecutive identical raw readings
	// required to confirm a state change.
	ConfirmCount int `json:"confirm_count"`
	// HistoryWindow bounds the rolling raw-reading history.
	HistoryWindowSeconds int `json:"history_window_seconds"`
	// PowerThresholdW: absolute grid power above this means the grid is live.
	PowerThresholdW float64 `json:"power_threshold_w"`
	// VoltageThresholdV: any phase above this means the grid is live.
	VoltageThresholdV float64 `json:"voltage_threshold_v"`
	FreqMinHz         float64 `json:"freq_min_hz"`
	FreqMaxHz         float64 `json:"freq_max_hz"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ConfirmCount <= 0 {
		c.ConfirmCount = 3
	}
	if c.HistoryWindowSeconds <= 0 {
		c.HistoryWindowSeconds = 30
	}
	if c.PowerThresholdW <= 0 {
		c.PowerThresholdW = 10
	}
	if c.VoltageThresholdV <= 0 {
		c.VoltageThresholdV = 100
	}
	if c.FreqMinHz <= 0 {
		c.FreqMinHz = 45
	}
	if c.FreqMaxHz <= 0 {
		c.FreqMaxHz = 65
	}
}

// State is the detector output for one tick.
type State struct {
	Available  bool
	Confidence float64
}

type reading struct {
	at        time.Time
	available bool
}

// Detector classifies grid availability from telemetry with hysteresis so a
// flickering signal cannot flap the confirmed state. It is owned exclusively
// by the tick loop and is not safe for concurrent use.
type Detector struct {
	cfg Config
	log logger.Logger

	history    []reading
	confirmed  bool
	confidence float64
	// pendingCount counts consecutive raw readings that disagree with the
	// confirmed state.
	pendingCount int
	stableTicks  int
}

// New creates a Detector. The initial confirmed state is "available": assuming
// grid loss is the riskier error.
func New(cfg Config, log logger.Logger) *Detector {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Detector{cfg: cfg, log: log, confirmed: true, confidence: 1}
}

// Update ingests the latest telemetry and returns the confirmed availability.
// When telemetryOK is false the last confirmed state is returned unchanged
// rather than guessing from stale data.
func (d *Detector) Update(now time.Time, tel model.TelemetrySnapshot, telemetryOK bool) State {
	if !telemetryOK {
		d.log.Debugf("grid telemetry missing, keeping confirmed state %v", d.confirmed)
		return State{Available: d.confirmed, Confidence: d.confidence}
	}

	raw := d.rawReading(tel)
	d.push(now, raw)

	if raw == d.confirmed {
		d.pendingCount = 0
		d.stableTicks++
	} else {
		d.pendingCount++
		d.stableTicks = 0
		if d.pendingCount >= d.cfg.ConfirmCount {
			d.log.Infof("grid availability changed: %v -> %v", d.confirmed, raw)
			d.confirmed = raw
			d.pendingCount = 0
		}
	}

	d.updateConfidence()
	return State{Available: d.confirmed, Confidence: d.confidence}
}

// Confirmed returns the last confirmed availability.
func (d *Detector) Confirmed() bool { return d.confirmed }

// rawReading applies the priority-ordered heuristics. The default is
// available: fail open.
func (d *Detector) rawReading(tel model.TelemetrySnapshot) bool {
	if tel.OffGridMode() {
		return false
	}
	if tel.WorkMode != "" {
		return true
	}
	if math.Abs(tel.TotalGridPowerW()) > d.cfg.PowerThresholdW {
		return true
	}
	for _, v := range tel.GridVoltageV {
		if v.Valid && v.Value > d.cfg.VoltageThresholdV {
			return true
		}
	}
	if tel.GridFreqHz.Valid && tel.GridFreqHz.Value >= d.cfg.FreqMinHz && tel.GridFreqHz.Value <= d.cfg.FreqMaxHz {
		return true
	}
	return true
}

func (d *Detector) push(now time.Time, raw bool) {
	d.history = append(d.history, reading{at: now, available: raw})
	cutoff := now.Add(-time.Duration(d.cfg.HistoryWindowSeconds) * time.Second)
	i := 0
	for ; i < len(d.history); i++ {
		if !d.history[i].at.Before(cutoff) {
			break
		}
	}
	d.history = d.history[i:]
}

// updateConfidence decays the score when the raw readings oscillate and
// recovers it once a confirmed state has been stable.
func (d *Detector) updateConfidence() {
	changes := 0
	n := len(d.history)
	from := n - 6
	if from < 1 {
		from = 1
	}
	for i := from; i < n; i++ {
		if d.history[i].available != d.history[i-1].available {
			changes++
		}
	}
	switch {
	case changes >= 3:
		d.confidence *= 0.5
		if d.confidence < 0.1 {
			d.confidence = 0.1
		}
	case d.stableTicks >= d.cfg.ConfirmCount:
		d.confidence = 1
	default:
		d.confidence += 0.1
		if d.confidence > 1 {
			d.confidence = 1
		}
	}
}

package gridwatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vperret/gridpilot/core/model"
)

func telAvailable() model.TelemetrySnapshot {
	return model.TelemetrySnapshot{WorkMode: "self-use"}
}

func telOffGrid() model.TelemetrySnapshot {
	return model.TelemetrySnapshot{WorkMode: "off-grid"}
}

func TestDetector_ConfirmsAfterConsecutiveReadings(t *testing.T) {
	d := New(Config{ConfirmCount: 3}, nil)
	now := time.Now()

	assert.True(t, d.Update(now, telAvailable(), true).Available)

	// Two off-grid readings are not enough.
	for i := 0; i < 2; i++ {
		now = now.Add(time.Second)
		assert.True(t, d.Update(now, telOffGrid(), true).Available)
	}
	// Third consecutive reading confirms the change.
	now = now.Add(time.Second)
	assert.False(t, d.Update(now, telOffGrid(), true).Available)
}

func TestDetector_FlickerDoesNotChangeState(t *testing.T) {
	d := New(Config{ConfirmCount: 3}, nil)
	now := time.Now()

	// Alternating readings faster than the confirmation threshold.
	for i := 0; i < 10; i++ {
		tel := telAvailable()
		if i%2 == 0 {
			tel = telOffGrid()
		}
		now = now.Add(time.Second)
		st := d.Update(now, tel, true)
		assert.True(t, st.Available, "flicker must not flip confirmed state")
	}
}

func TestDetector_ConfidenceDecaysOnOscillation(t *testing.T) {
	d := New(Config{ConfirmCount: 3}, nil)
	now := time.Now()

	for i := 0; i < 8; i++ {
		tel := telAvailable()
		if i%2 == 0 {
			tel = telOffGrid()
		}
		now = now.Add(time.Second)
		d.Update(now, tel, true)
	}
	st := d.Update(now.Add(time.Second), telAvailable(), true)
	assert.Less(t, st.Confidence, 1.0)

	// Stable readings recover confidence.
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		st = d.Update(now, telAvailable(), true)
	}
	assert.Equal(t, 1.0, st.Confidence)
}

func TestDetector_MissingTelemetryKeepsLastState(t *testing.T) {
	d := New(Config{ConfirmCount: 1}, nil)
	now := time.Now()

	assert.False(t, d.Update(now, telOffGrid(), true).Available)
	st := d.Update(now.Add(time.Second), model.TelemetrySnapshot{}, false)
	assert.False(t, st.Available)
}

func TestDetector_RawHeuristics(t *testing.T) {
	d := New(Config{}, nil)

	cases := []struct {
		name string
		tel  model.TelemetrySnapshot
		want bool
	}{
		{"off-grid mode", model.TelemetrySnapshot{WorkMode: "eps"}, false},
		{"named mode", model.TelemetrySnapshot{WorkMode: "time-based"}, true},
		{"grid power", model.TelemetrySnapshot{GridPowerW: [3]model.Metric{model.MetricOf(120)}}, true},
		{"grid voltage", model.TelemetrySnapshot{GridVoltageV: [3]model.Metric{model.MetricOf(230)}}, true},
		{"nominal frequency", model.TelemetrySnapshot{GridFreqHz: model.MetricOf(50)}, true},
		{"empty snapshot fails open", model.TelemetrySnapshot{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, d.rawReading(tc.tel))
		})
	}
}

func TestDetector_HistoryBounded(t *testing.T) {
	d := New(Config{HistoryWindowSeconds: 30}, nil)
	now := time.Now()
	for i := 0; i < 120; i++ {
		now = now.Add(time.Second)
		d.Update(now, telAvailable(), true)
	}
	assert.LessOrEqual(t, len(d.history), 31)
}

package reliability

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Confidence classifies how much a forecast stream can be trusted.
type Confidence int

const (
	ConfidenceHigh Confidence = iota
	ConfidenceMedium
	ConfidenceLow
)

// String returns a human-readable representation of the confidence class.
func (c Confidence) String() string {
	switch c {
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "high"
	}
}

// accuracyWindow is the number of hourly actual/forecast ratios kept, one week.
const accuracyWindow = 168

// accuracyRing is a fixed-size ring of actual/forecast ratios.
type accuracyRing struct {
	samples []float64
	next    int
	full    bool
}

func newAccuracyRing() *accuracyRing {
	return &accuracyRing{samples: make([]float64, accuracyWindow)}
}

// Add records one actual/forecast ratio. Non-finite or non-positive ratios
// are dropped: they indicate a broken sample, not a bad forecast.
func (r *accuracyRing) Add(ratio float64) {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
		return
	}
	r.samples[r.next] = ratio
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

func (r *accuracyRing) values() []float64 {
	if r.full {
		return r.samples
	}
	return r.samples[:r.next]
}

// CV returns the coefficient of variation of the recorded ratios. With fewer
// than a day of samples the stream is treated as perfectly predictable so the
// uncertainty buffer starts at zero rather than spiking on startup.
func (r *accuracyRing) CV() float64 {
	vals := r.values()
	if len(vals) < 24 {
		return 0
	}
	mean, std := stat.MeanStdDev(vals, nil)
	if mean == 0 {
		return 0
	}
	return math.Abs(std / mean)
}

// Confidence maps a CV to a confidence class.
func confidenceFromCV(cv float64) Confidence {
	switch {
	case cv < 0.15:
		return ConfidenceHigh
	case cv < 0.35:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

package backtest

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vperret/gridpilot/core/logger"
	"github.com/vperret/gridpilot/core/reliability"
)

// DayOutcome is the observed result of one night, recorded by the scheduler.
type DayOutcome struct {
	Date         time.Time `json:"date"`
	SunsetSoCPct float64   `json:"sunset_soc_pct"`
	SunriseSoC   float64   `json:"sunrise_soc_pct"`
	NightLoadKWh float64   `json:"night_load_kwh"`
	GridKWh      float64   `json:"grid_kwh"`
	CapacityKWh  float64   `json:"capacity_kwh"`
	OutageEvents int       `json:"outage_events"`
}

// Scenario is one candidate parameter set to score retrospectively.
type Scenario struct {
	Name     string
	Tunables reliability.Tunables
}

// DefaultScenarios returns the candidate set compared against the current
// parameters every day.
func DefaultScenarios(current reliability.Tunables) []Scenario {
	conservative := current
	conservative.BaseBufferPct = current.BaseBufferPct + 5
	conservative.MaxCushionPct = current.MaxCushionPct + 10

	aggressive := current
	aggressive.BaseBufferPct = current.BaseBufferPct - 3
	aggressive.MaxCushionPct = current.MaxCushionPct - 5

	return []Scenario{
		{Name: "conservative", Tunables: conservative},
		{Name: "balanced", Tunables: reliability.Tunables{BaseBufferPct: 5, OutageBufferPct: 10, UncertaintyScalePct: 20, NightLoadBufferPct: 5, InstabilityBufferPct: 5, MaxCushionPct: 25}},
		{Name: "aggressive", Tunables: aggressive},
		{Name: "current", Tunables: current},
	}
}

// Config holds the tuner settings.
type Config struct {
	Enabled bool `json:"enabled"`
	// TrailingDays is the score window averaged before comparing scenarios.
	TrailingDays int `json:"trailing_days"`
	// AdoptMargin is how much a challenger's average must exceed the current
	// scenario's before its parameters are adopted.
	AdoptMargin float64 `json:"adopt_margin"`
	// RunHour is the local hour of day at which the daily evaluation runs.
	RunHour int `json:"run_hour"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TrailingDays == 0 {
		c.TrailingDays = 7
	}
	if c.AdoptMargin == 0 {
		c.AdoptMargin = 0.05
	}
	if c.RunHour == 0 {
		c.RunHour = 6
	}
}

// Weighted score shares: survivability dominates, grid minimization second,
// a small bonus for outage-free nights.
const (
	survivalWeight = 0.6
	gridWeight     = 0.3
	outageWeight   = 0.1
)

// Manager scores alternative reliability parameter sets against actual
// overnight outcomes and nudges the calculator's tunables within bounds. It
// is a slow control loop layered above the per-tick loop: it only reads
// history and writes tunables atomically, never touching dispatch. The tick
// loop records outcomes while the Run goroutine evaluates, so history and
// scores are guarded by a mutex.
type Manager struct {
	cfg  Config
	calc *reliability.Calculator
	log  logger.Logger

	mu      sync.Mutex
	history []DayOutcome
	scores  map[string][]float64

	// onRecord and onAdopt let the caller persist outcomes and adopted
	// parameters without the manager knowing about storage.
	onRecord func(DayOutcome)
	onAdopt  func(reliability.Tunables)
}

// NewManager creates a Manager.
func NewManager(cfg Config, calc *reliability.Calculator, log logger.Logger) *Manager {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Manager{cfg: cfg, calc: calc, log: log, scores: make(map[string][]float64)}
}

// OnRecord registers a callback invoked for every recorded outcome.
func (m *Manager) OnRecord(fn func(DayOutcome)) { m.onRecord = fn }

// OnAdopt registers a callback invoked when new parameters are adopted.
func (m *Manager) OnAdopt(fn func(reliability.Tunables)) { m.onAdopt = fn }

// Record appends one day's observed outcome.
func (m *Manager) Record(day DayOutcome) {
	m.mu.Lock()
	m.history = append(m.history, day)
	if len(m.history) > 30 {
		m.history = m.history[len(m.history)-30:]
	}
	m.mu.Unlock()
	if m.onRecord != nil {
		m.onRecord(day)
	}
}

// History returns a copy of the recorded outcomes.
func (m *Manager) History() []DayOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DayOutcome(nil), m.history...)
}

// Evaluate scores yesterday's outcome under every scenario, updates the
// trailing averages and applies the best scenario's parameters when it beats
// the current one by the margin. Returns the adopted scenario name, if any.
func (m *Manager) Evaluate() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return "", false
	}
	day := m.history[len(m.history)-1]

	scenarios := DefaultScenarios(m.calc.Tunables())
	for _, sc := range scenarios {
		s := m.scoreDay(day, sc.Tunables)
		m.scores[sc.Name] = append(m.scores[sc.Name], s)
		if len(m.scores[sc.Name]) > m.cfg.TrailingDays {
			m.scores[sc.Name] = m.scores[sc.Name][1:]
		}
	}

	currentAvg := stat.Mean(m.scores["current"], nil)
	bestName, bestAvg := "current", currentAvg
	for _, sc := range scenarios {
		if sc.Name == "current" {
			continue
		}
		avg := stat.Mean(m.scores[sc.Name], nil)
		if avg > bestAvg {
			bestName, bestAvg = sc.Name, avg
		}
	}

	if bestName == "current" || bestAvg-currentAvg < m.cfg.AdoptMargin {
		return "", false
	}

	for _, sc := range scenarios {
		if sc.Name == bestName {
			m.log.Infof("backtest: adopting %q parameters (avg %.3f vs current %.3f)", bestName, bestAvg, currentAvg)
			m.calc.SetTunables(sc.Tunables)
			if m.onAdopt != nil {
				m.onAdopt(m.calc.Tunables())
			}
			return bestName, true
		}
	}
	return "", false
}

// Run evaluates once per day at the configured hour until the context ends.
func (m *Manager) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	for {
		next := nextRun(time.Now(), m.cfg.RunHour)
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			if name, ok := m.Evaluate(); ok {
				m.log.Infof("backtest: switched to %q", name)
			}
		}
	}
}

func nextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// scoreDay replays one night under the given tunables. The floor the
// parameters would have produced determines how much battery was usable;
// survivability asks whether the night load fit above the hard floor.
func (m *Manager) scoreDay(day DayOutcome, tun reliability.Tunables) float64 {
	if day.CapacityKWh <= 0 {
		return 0
	}
	hard := m.calc.HardFloorPct()
	floorPct := hard + tun.BaseBufferPct
	if floorPct > hard+tun.MaxCushionPct {
		floorPct = hard + tun.MaxCushionPct
	}

	usableKWh := (day.SunsetSoCPct - floorPct) / 100 * day.CapacityKWh
	survival := 1.0
	if usableKWh < day.NightLoadKWh {
		// A higher floor would have forced grid charging; without grid it is
		// a blackout risk. Scale by how badly the night missed.
		deficit := day.NightLoadKWh - usableKWh
		survival = 1 - deficit/day.NightLoadKWh
		if survival < 0 {
			survival = 0
		}
	}

	gridNorm := day.GridKWh / (day.CapacityKWh + day.GridKWh)
	gridScore := 1 - gridNorm

	outageScore := 1.0
	if day.OutageEvents > 0 {
		outageScore = 0
	}

	return survivalWeight*survival + gridWeight*gridScore + outageWeight*outageScore
}

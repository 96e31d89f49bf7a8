package split

import (
	"math"

	"github.com/vperret/gridpilot/core/model"
)

// Mode selects how candidate weights are computed.
type Mode int

const (
	// ModeHeadroom weights by present headroom: inverters with more room
	// take proportionally more. This is the default.
	ModeHeadroom Mode = iota
	// ModeEqual gives every candidate the same weight.
	ModeEqual
	// ModeRated weights by nameplate rating for the requested action.
	ModeRated
)

// String returns a human-readable representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeEqual:
		return "equal"
	case ModeRated:
		return "rated"
	default:
		return "headroom"
	}
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) Mode {
	switch s {
	case "equal":
		return ModeEqual
	case "rated":
		return ModeRated
	default:
		return ModeHeadroom
	}
}

// Config holds the splitter settings.
type Config struct {
	Mode string `json:"mode"`
	// DefaultStepW applies to inverters that report no step granularity.
	DefaultStepW float64 `json:"default_step_w"`
	// MinAllocationW zeroes out trivially small, noisy setpoints.
	MinAllocationW float64 `json:"min_allocation_w"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.DefaultStepW == 0 {
		c.DefaultStepW = 10
	}
	if c.MinAllocationW == 0 {
		c.MinAllocationW = 50
	}
}

// epsilonW is the residual below which redistribution stops making progress.
const epsilonW = 0.1

// Result reports the allocation outcome. UnmetW lets callers alert on
// structurally unsatisfiable targets.
type Result struct {
	Allocations     model.SplitAllocation
	TotalAllocatedW float64
	UnmetW          float64
}

type candidate struct {
	cap       model.InverterCapability
	weight    float64
	headroomW float64
	allocated float64
}

// Splitter distributes one aggregate power target across inverters. It is a
// pure calculation: no I/O, no retained state.
type Splitter struct {
	mode Mode
	cfg  Config
}

// New creates a Splitter.
func New(cfg Config) *Splitter {
	cfg.SetDefaults()
	return &Splitter{mode: ParseMode(cfg.Mode), cfg: cfg}
}

// Split allocates targetW (positive = charge, negative = discharge) across
// the given inverters. Guarantees: the allocated sum never exceeds |target|,
// no inverter exceeds its headroom, and every allocation is a multiple of the
// inverter's step size or exactly zero.
func (s *Splitter) Split(targetW float64, fleet []model.InverterCapability) Result {
	res := Result{Allocations: make(model.SplitAllocation, len(fleet))}
	if targetW == 0 || len(fleet) == 0 {
		res.UnmetW = math.Abs(targetW)
		return res
	}

	action := model.ActionCharge
	if targetW < 0 {
		action = model.ActionDischarge
	}
	remaining := math.Abs(targetW)

	cands := s.candidates(fleet, action)
	if len(cands) == 0 {
		res.UnmetW = remaining
		return res
	}

	// Initial proportional split capped at headroom, then iterative
	// redistribution of the shortfall among candidates with spare room.
	for remaining > epsilonW {
		var weightSum float64
		for _, c := range cands {
			if c.headroomW-c.allocated > epsilonW {
				weightSum += c.weight
			}
		}
		if weightSum <= 0 {
			break
		}
		progress := 0.0
		for _, c := range cands {
			spare := c.headroomW - c.allocated
			if spare <= epsilonW {
				continue
			}
			share := remaining * (c.weight / weightSum)
			if share > spare {
				share = spare
			}
			c.allocated += share
			progress += share
		}
		if progress <= epsilonW {
			break
		}
		remaining -= progress
	}

	// Round down to step granularity, zero out noise, re-cap to headroom.
	for _, c := range cands {
		step := c.cap.PowerStepW
		if step <= 0 {
			step = s.cfg.DefaultStepW
		}
		w := math.Floor(c.allocated/step) * step
		if w < s.cfg.MinAllocationW {
			w = 0
		}
		if w > c.headroomW {
			w = math.Floor(c.headroomW/step) * step
		}
		if w <= 0 {
			continue
		}
		ps := res.Allocations[c.cap.ID]
		if action == model.ActionCharge {
			ps.ChargeW = w
		} else {
			ps.DischargeW = w
		}
		res.Allocations[c.cap.ID] = ps
		res.TotalAllocatedW += w
	}

	res.UnmetW = math.Abs(targetW) - res.TotalAllocatedW
	if res.UnmetW < 0 {
		res.UnmetW = 0
	}
	return res
}

// candidates filters to online, non-faulted inverters with strictly positive
// headroom and computes their weights.
func (s *Splitter) candidates(fleet []model.InverterCapability, action model.Action) []*candidate {
	var out []*candidate
	for _, cap := range fleet {
		if !cap.Dispatchable(action) {
			continue
		}
		c := &candidate{cap: cap, headroomW: cap.HeadroomW(action)}
		switch s.mode {
		case ModeEqual:
			c.weight = 1
		case ModeRated:
			c.weight = cap.RatedW(action)
		default:
			c.weight = c.headroomW
		}
		if c.weight <= 0 {
			continue
		}
		out = append(out, c)
	}
	return out
}

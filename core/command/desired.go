package command

import (
	"github.com/vperret/gridpilot/core/model"
)

// DesiredState is the full per-inverter state the scheduler wants asserted.
// Re-sending it is idempotent; a failed write is simply reasserted next tick.
type DesiredState struct {
	WorkMode          string
	MinSoCPct         float64
	MaxChargeW        float64
	MaxDischargeW     float64
	GridChargeEnabled bool
	Windows           []model.DispatchWindow
}

// NormalizeWindows maps generic dispatch windows to what the device can
// actually hold: the window count is capped to the capability and, on
// hardware with separate charge/discharge banks, charge windows are listed
// first so they land in the charge slots.
func NormalizeWindows(ws []model.DispatchWindow, cap model.InverterCapability) []model.DispatchWindow {
	max := cap.MaxWindows
	if max <= 0 {
		max = 6
	}
	out := make([]model.DispatchWindow, 0, len(ws))
	if cap.BidirectionalWindows {
		out = append(out, ws...)
	} else {
		for _, w := range ws {
			if w.Type == model.WindowCharge {
				out = append(out, w)
			}
		}
		for _, w := range ws {
			if w.Type != model.WindowCharge {
				out = append(out, w)
			}
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// Commands expands the desired state into the register writes for one
// inverter, windows normalized to its capability.
func (d DesiredState) Commands(cap model.InverterCapability) []Command {
	cmds := []Command{
		{Key: KeyWorkMode, Str: d.WorkMode},
		{Key: KeyMinSoC, Value: d.MinSoCPct},
		{Key: KeyMaxChargeW, Value: d.MaxChargeW},
		{Key: KeyMaxDischargeW, Value: d.MaxDischargeW},
		{Key: KeyGridChargeOn, Value: boolValue(d.GridChargeEnabled)},
	}
	for i, w := range NormalizeWindows(d.Windows, cap) {
		win := w
		cmds = append(cmds, Command{Key: WindowKey(i), Window: &win})
	}
	return cmds
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package command

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/vperret/gridpilot/core/model"
)

// Key identifies a logical register action on an inverter. Two commands with
// the same key collapse to the later one during canonicalization.
type Key string

// Logical action keys understood by adapters.
const (
	KeyWorkMode      Key = "work_mode"
	KeyMinSoC        Key = "min_soc_pct"
	KeyMaxChargeW    Key = "max_charge_w"
	KeyMaxDischargeW Key = "max_discharge_w"
	KeyGridChargeOn  Key = "grid_charge_enable"
	KeyWindowPrefix  Key = "window_" // window_0 ... window_N
	KeyClearWindows  Key = "clear_windows"
)

// Command is one desired register write.
type Command struct {
	Key    Key
	Value  float64
	Str    string
	Window *model.DispatchWindow
}

// WindowKey returns the key for the i-th time-of-use slot.
func WindowKey(i int) Key { return Key(fmt.Sprintf("%s%d", KeyWindowPrefix, i)) }

// normPowerStepW is the coarse rounding applied to power values before
// hashing, so telemetry jitter does not produce spurious diffs.
const normPowerStepW = 10

// Canonicalize collapses duplicate keys (last write wins), normalizes
// volatile fields and returns the list sorted by key.
func Canonicalize(cmds []Command) []Command {
	byKey := make(map[Key]Command, len(cmds))
	for _, c := range cmds {
		byKey[c.Key] = normalize(c)
	}
	out := make([]Command, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func normalize(c Command) Command {
	c.Value = roundTo(c.Value, 0.01)
	if c.Window != nil {
		w := *c.Window
		w.PowerW = math.Floor(w.PowerW/normPowerStepW) * normPowerStepW
		w.TargetSoCPct = roundTo(w.TargetSoCPct, 0.1)
		c.Window = &w
	}
	switch c.Key {
	case KeyMaxChargeW, KeyMaxDischargeW:
		c.Value = math.Floor(c.Value/normPowerStepW) * normPowerStepW
	}
	return c
}

func roundTo(v, step float64) float64 {
	return math.Round(v/step) * step
}

// Signature computes a deterministic content hash of a canonical command set.
// Timestamps are deliberately excluded: windows hash by clock time only.
func Signature(cmds []Command) uint64 {
	h := fnv.New64a()
	var b strings.Builder
	for _, c := range cmds {
		b.Reset()
		fmt.Fprintf(&b, "%s=%g|%s", c.Key, c.Value, c.Str)
		if w := c.Window; w != nil {
			fmt.Fprintf(&b, "|%s|%s|%s|%g|%g|%t",
				w.Type, w.Start.Format("15:04"), w.End.Format("15:04"),
				w.PowerW, w.TargetSoCPct, w.Enabled)
		}
		b.WriteByte('\n')
		_, _ = h.Write([]byte(b.String()))
	}
	return h.Sum64()
}

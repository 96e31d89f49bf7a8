package model

import "fmt"

// BatteryState is the aggregate battery bank view used by the planner.
// It is mutated only by telemetry ingestion.
type BatteryState struct {
	SoCPct      float64 // 0-100
	CapacityKWh float64 // usable capacity
	PowerW      float64 // instantaneous, positive charging
}

// Validate checks that the battery description is usable for planning.
func (b BatteryState) Validate() error {
	if b.CapacityKWh <= 0 {
		return fmt.Errorf("battery capacity must be positive")
	}
	if b.SoCPct < 0 || b.SoCPct > 100 {
		return fmt.Errorf("soc %.1f out of range", b.SoCPct)
	}
	return nil
}

// EnergyKWh converts a SOC percentage to energy for this bank.
func (b BatteryState) EnergyKWh(socPct float64) float64 {
	return socPct / 100 * b.CapacityKWh
}

// EnergyToTargetKWh is the energy still required to reach targetPct, never negative.
func (b BatteryState) EnergyToTargetKWh(targetPct float64) float64 {
	e := (targetPct - b.SoCPct) / 100 * b.CapacityKWh
	if e < 0 {
		return 0
	}
	return e
}

// EnergyAboveKWh is the dispatchable energy above floorPct, never negative.
func (b BatteryState) EnergyAboveKWh(floorPct float64) float64 {
	e := (b.SoCPct - floorPct) / 100 * b.CapacityKWh
	if e < 0 {
		return 0
	}
	return e
}

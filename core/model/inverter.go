package model

// Action is the direction of a power request.
type Action int

const (
	ActionCharge Action = iota
	ActionDischarge
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	if a == ActionDischarge {
		return "discharge"
	}
	return "charge"
}

// InverterCapability describes one inverter's present limits. It is supplied
// fresh each tick by the hardware adapter.
type InverterCapability struct {
	ID      string `json:"id"`
	Online  bool   `json:"-"`
	Faulted bool   `json:"-"`

	RatedChargeKW    float64 `json:"rated_charge_kw"`
	RatedDischargeKW float64 `json:"rated_discharge_kw"`

	// Present, possibly derated, maxima.
	MaxChargeKWNow    float64 `json:"max_charge_kw_now"`
	MaxDischargeKWNow float64 `json:"max_discharge_kw_now"`

	CurrentChargeW    float64 `json:"-"`
	CurrentDischargeW float64 `json:"-"`

	// PowerStepW is the setpoint granularity; zero means the global default
	// step applies.
	PowerStepW float64 `json:"power_step_w"`

	SupportsAbsoluteSetpoint bool `json:"supports_absolute_setpoint"`

	// Time-of-use window capability metadata.
	MaxWindows           int  `json:"max_windows"`
	BidirectionalWindows bool `json:"bidirectional_windows"`
}

// HeadroomW is the remaining power the inverter can take for the given action
// before hitting its present maximum. Never negative.
func (c InverterCapability) HeadroomW(a Action) float64 {
	var h float64
	switch a {
	case ActionCharge:
		h = c.MaxChargeKWNow*1000 - c.CurrentChargeW
	case ActionDischarge:
		h = c.MaxDischargeKWNow*1000 - c.CurrentDischargeW
	}
	if h < 0 {
		return 0
	}
	return h
}

// RatedW returns the nameplate rating in watts for the given action.
func (c InverterCapability) RatedW(a Action) float64 {
	if a == ActionDischarge {
		return c.RatedDischargeKW * 1000
	}
	return c.RatedChargeKW * 1000
}

// Dispatchable reports whether the inverter may take part in an allocation.
func (c InverterCapability) Dispatchable(a Action) bool {
	return c.Online && !c.Faulted && c.HeadroomW(a) > 0
}

// PowerSplit is the per-inverter outcome of a power allocation.
type PowerSplit struct {
	ChargeW    float64
	DischargeW float64
}

// SplitAllocation maps inverter id to its allocated power.
type SplitAllocation map[string]PowerSplit

package command

import (
	"context"
	"sync"
	"time"

	"github.com/vperret/gridpilot/core/logger"
	"github.com/vperret/gridpilot/core/model"
)

// Adapter is the per-inverter hardware contract.
type Adapter interface {
	ID() string
	Capability() model.InverterCapability
	LastTelemetry() (model.TelemetrySnapshot, bool)
	HandleCommand(ctx context.Context, cmd Command) error
}

// Config holds dispatcher settings.
type Config struct {
	// PacingMS is the protocol-imposed delay between writes to one inverter.
	PacingMS int `json:"pacing_ms"`
	// SignatureTTLSeconds forces re-execution of an unchanged command set
	// after this long, as a safety net against silent staleness.
	SignatureTTLSeconds int `json:"signature_ttl_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PacingMS == 0 {
		c.PacingMS = 100
	}
	if c.SignatureTTLSeconds == 0 {
		c.SignatureTTLSeconds = 3600
	}
}

// Report summarises one dispatch for one inverter.
type Report struct {
	InverterID string
	Skipped    bool
	Written    int
	Cleared    bool
	Errors     map[Key]error
}

type inverterState struct {
	signature  uint64
	hasSig     bool
	lastWrite  time.Time
	lastMode   string
	lastDayKey string
	// lastWindows is what the hardware currently holds; once any of them
	// ends, the on-device schedule is stale.
	lastWindows []model.DispatchWindow
}

// Dispatcher converts desired state into the minimal set of register writes.
// Distinct inverters may be dispatched concurrently; dispatching the same
// inverter twice at once is not supported.
type Dispatcher struct {
	cfg Config
	log logger.Logger
	now func() time.Time

	mu    sync.Mutex
	state map[string]*inverterState
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config, log logger.Logger) *Dispatcher {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Dispatcher{cfg: cfg, log: log, now: time.Now, state: make(map[string]*inverterState)}
}

// Dispatch canonicalizes the desired state for one inverter and executes the
// delta. One command's failure does not abort the remaining commands; errors
// are recorded in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, adapter Adapter, desired DesiredState) Report {
	id := adapter.ID()
	rep := Report{InverterID: id, Errors: make(map[Key]error)}
	now := d.now()

	d.mu.Lock()
	st, ok := d.state[id]
	if !ok {
		st = &inverterState{}
		d.state[id] = st
	}
	d.mu.Unlock()

	cmds := Canonicalize(desired.Commands(adapter.Capability()))
	sig := Signature(cmds)

	ttl := time.Duration(d.cfg.SignatureTTLSeconds) * time.Second
	if st.hasSig && st.signature == sig && now.Sub(st.lastWrite) < ttl {
		rep.Skipped = true
		d.log.Debugf("inverter %s: command set unchanged, skipping %d writes", id, len(cmds))
		return rep
	}

	// Stale windows must be explicitly cleared before new ones are written:
	// a mode switch, a day boundary or a stale-window hit may otherwise leave
	// the hardware blending old and new schedules.
	if d.needsClear(st, desired, now) {
		rep.Cleared = true
		if err := d.write(ctx, adapter, Command{Key: KeyClearWindows}); err != nil {
			rep.Errors[KeyClearWindows] = err
			d.log.Errorf("inverter %s: clear windows failed: %v", id, err)
		}
		d.pace(ctx)
	}

	for i, c := range cmds {
		if err := d.write(ctx, adapter, c); err != nil {
			rep.Errors[c.Key] = err
			d.log.Errorf("inverter %s: write %s failed: %v", id, c.Key, err)
		} else {
			rep.Written++
		}
		if i < len(cmds)-1 {
			d.pace(ctx)
		}
	}

	st.lastWrite = now
	st.lastMode = desired.WorkMode
	st.lastDayKey = now.Format("2006-01-02")
	st.lastWindows = append([]model.DispatchWindow(nil), desired.Windows...)
	if len(rep.Errors) == 0 {
		st.signature = sig
		st.hasSig = true
	} else {
		// Partial failure: drop the signature so the next tick reasserts the
		// full desired state.
		st.hasSig = false
	}
	return rep
}

func (d *Dispatcher) needsClear(st *inverterState, desired DesiredState, now time.Time) bool {
	if st.lastMode != "" && st.lastMode != desired.WorkMode {
		return true
	}
	if st.lastDayKey != "" && st.lastDayKey != now.Format("2006-01-02") {
		return true
	}
	// The schedule at risk of blending is the one already on the hardware,
	// not the one about to be written.
	for _, w := range st.lastWindows {
		if w.Enabled && w.Stale(now) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) write(ctx context.Context, adapter Adapter, c Command) error {
	return adapter.HandleCommand(ctx, c)
}

// pace sleeps the protocol delay but returns early on context cancellation;
// the current inverter's sequence still runs to completion so a register is
// never left half-written.
func (d *Dispatcher) pace(ctx context.Context) {
	t := time.NewTimer(time.Duration(d.cfg.PacingMS) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

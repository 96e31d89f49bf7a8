package command

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vperret/gridpilot/core/model"
)

type mockAdapter struct {
	id       string
	cap      model.InverterCapability
	writes   []Command
	failKeys map[Key]bool
}

func newMockAdapter(id string) *mockAdapter {
	return &mockAdapter{
		id:       id,
		cap:      model.InverterCapability{ID: id, Online: true, MaxWindows: 6, BidirectionalWindows: true},
		failKeys: make(map[Key]bool),
	}
}

func (m *mockAdapter) ID() string                                       { return m.id }
func (m *mockAdapter) Capability() model.InverterCapability             { return m.cap }
func (m *mockAdapter) LastTelemetry() (model.TelemetrySnapshot, bool)   { return model.TelemetrySnapshot{}, true }
func (m *mockAdapter) HandleCommand(_ context.Context, c Command) error {
	if m.failKeys[c.Key] {
		return fmt.Errorf("register write rejected")
	}
	m.writes = append(m.writes, c)
	return nil
}

func testDesired(now time.Time) DesiredState {
	return DesiredState{
		WorkMode:      "time-based",
		MinSoCPct:     25,
		MaxChargeW:    3000,
		MaxDischargeW: 2500,
		Windows: []model.DispatchWindow{{
			Name:    "solar-charge",
			Start:   now,
			End:     now.Add(4 * time.Hour),
			Type:    model.WindowCharge,
			PowerW:  1500,
			Enabled: true,
		}},
	}
}

func fastDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(Config{PacingMS: 1}, nil)
	return d
}

func TestDispatch_Idempotent(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	now := time.Now()
	desired := testDesired(now)

	rep := d.Dispatch(context.Background(), a, desired)
	assert.False(t, rep.Skipped)
	assert.Greater(t, rep.Written, 0)

	first := len(a.writes)
	rep = d.Dispatch(context.Background(), a, desired)
	assert.True(t, rep.Skipped)
	assert.Zero(t, rep.Written)
	assert.Len(t, a.writes, first, "second identical dispatch must issue zero writes")
}

func TestDispatch_SignatureExpiryForcesRewrite(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	base := time.Now()
	d.now = func() time.Time { return base }
	desired := testDesired(base)

	d.Dispatch(context.Background(), a, desired)
	first := len(a.writes)

	// Past the 1 h safety net the identical set is re-executed in full.
	d.now = func() time.Time { return base.Add(61 * time.Minute) }
	rep := d.Dispatch(context.Background(), a, desired)
	assert.False(t, rep.Skipped)
	assert.Greater(t, len(a.writes), first)
}

func TestDispatch_ChangedStateWrites(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	now := time.Now()

	d.Dispatch(context.Background(), a, testDesired(now))

	changed := testDesired(now)
	changed.MaxChargeW = 4000
	rep := d.Dispatch(context.Background(), a, changed)
	assert.False(t, rep.Skipped)
}

func TestDispatch_PartialFailureContinues(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	a.failKeys[KeyMaxChargeW] = true
	now := time.Now()
	desired := testDesired(now)

	rep := d.Dispatch(context.Background(), a, desired)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors, KeyMaxChargeW)
	// The remaining commands were still written.
	assert.Equal(t, rep.Written, len(a.writes))
	assert.Greater(t, rep.Written, 0)

	// After a failure the signature is dropped: the next tick reasserts.
	a.failKeys = map[Key]bool{}
	rep = d.Dispatch(context.Background(), a, desired)
	assert.False(t, rep.Skipped)
	assert.Empty(t, rep.Errors)
}

func TestDispatch_ModeChangeClearsWindows(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	now := time.Now()

	d.Dispatch(context.Background(), a, testDesired(now))

	selfUse := testDesired(now)
	selfUse.WorkMode = "self-use"
	rep := d.Dispatch(context.Background(), a, selfUse)
	assert.True(t, rep.Cleared)

	var cleared bool
	for _, w := range a.writes {
		if w.Key == KeyClearWindows {
			cleared = true
		}
	}
	assert.True(t, cleared, "stale windows must be explicitly cleared before new ones are written")
}

func TestDispatch_DayBoundaryClearsWindows(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	base := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	d.Dispatch(context.Background(), a, testDesired(base))

	next := base.Add(20 * time.Minute) // crosses midnight
	d.now = func() time.Time { return next }
	desired := testDesired(next)
	rep := d.Dispatch(context.Background(), a, desired)
	assert.True(t, rep.Cleared)
}

func TestDispatch_ExpiredWrittenWindowsClear(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	short := testDesired(base)
	short.Windows[0].End = base.Add(time.Hour)
	d.Dispatch(context.Background(), a, short)

	// Same day, same mode, fresh replacement windows. The schedule still on
	// the hardware has run out, so it must be cleared first.
	later := base.Add(2 * time.Hour)
	d.now = func() time.Time { return later }
	rep := d.Dispatch(context.Background(), a, testDesired(later))
	assert.True(t, rep.Cleared)
}

func TestDispatch_LiveWrittenWindowsNotCleared(t *testing.T) {
	d := fastDispatcher(t)
	a := newMockAdapter("inv1")
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	d.Dispatch(context.Background(), a, testDesired(base))

	soon := base.Add(30 * time.Minute)
	d.now = func() time.Time { return soon }
	changed := testDesired(base)
	changed.MinSoCPct = 30
	rep := d.Dispatch(context.Background(), a, changed)
	assert.False(t, rep.Cleared)
}

func TestCanonicalize_LastWriteWins(t *testing.T) {
	cmds := []Command{
		{Key: KeyMaxChargeW, Value: 1000},
		{Key: KeyMaxChargeW, Value: 2000},
	}
	canon := Canonicalize(cmds)
	require.Len(t, canon, 1)
	assert.Equal(t, 2000.0, canon[0].Value)
}

func TestSignature_IgnoresJitter(t *testing.T) {
	now := time.Now()
	w1 := model.DispatchWindow{Start: now, End: now.Add(time.Hour), PowerW: 1503, Enabled: true}
	w2 := w1
	w2.PowerW = 1508 // same after coarse rounding

	a := Canonicalize([]Command{{Key: WindowKey(0), Window: &w1}})
	b := Canonicalize([]Command{{Key: WindowKey(0), Window: &w2}})
	assert.Equal(t, Signature(a), Signature(b))

	w2.PowerW = 1600
	c := Canonicalize([]Command{{Key: WindowKey(0), Window: &w2}})
	assert.NotEqual(t, Signature(a), Signature(c))
}

func TestNormalizeWindows_SeparateBanksAndCap(t *testing.T) {
	cap := model.InverterCapability{MaxWindows: 2, BidirectionalWindows: false}
	ws := []model.DispatchWindow{
		{Name: "night", Type: model.WindowDischarge},
		{Name: "solar", Type: model.WindowCharge},
		{Name: "peak", Type: model.WindowDischarge},
	}
	out := NormalizeWindows(ws, cap)
	require.Len(t, out, 2)
	assert.Equal(t, "solar", out[0].Name, "charge windows land in the charge slots first")
}

package store

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vperret/gridpilot/core/backtest"
	coremetrics "github.com/vperret/gridpilot/core/metrics"
	"github.com/vperret/gridpilot/core/reliability"
)

// SQLiteStore persists config values, reliability snapshots, nightly
// outcomes and per-inverter setpoints in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `
    CREATE TABLE IF NOT EXISTS config_values (
        key TEXT PRIMARY KEY,
        value REAL,
        source TEXT,
        updated_at INTEGER
    );
    CREATE TABLE IF NOT EXISTS reliability_snapshots (
        computed_at INTEGER PRIMARY KEY,
        floor_pct REAL,
        cushion_pct REAL,
        outage_risk REAL,
        pv_confidence TEXT,
        load_confidence TEXT
    );
    CREATE TABLE IF NOT EXISTS day_outcomes (
        day INTEGER PRIMARY KEY,
        sunset_soc_pct REAL,
        sunrise_soc_pct REAL,
        night_load_kwh REAL,
        grid_kwh REAL,
        capacity_kwh REAL,
        outage_events INTEGER
    );
    CREATE TABLE IF NOT EXISTS setpoints (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        at INTEGER,
        inverter_id TEXT,
        target_w REAL,
        charge_w REAL,
        discharge_w REAL,
        headroom_w REAL,
        rated_w REAL,
        unmet_w REAL
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// SetValue upserts one tunable value with its provenance ("operator",
// "auto-tuner" or "default").
func (s *SQLiteStore) SetValue(key string, value float64, source string) error {
	_, err := s.db.Exec(`INSERT INTO config_values (key, value, source, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            value = excluded.value,
            source = excluded.source,
            updated_at = excluded.updated_at`,
		key, value, source, time.Now().Unix())
	return err
}

// Value reads one tunable back together with its provenance.
func (s *SQLiteStore) Value(key string) (float64, string, bool, error) {
	var value float64
	var source string
	err := s.db.QueryRow(`SELECT value, source FROM config_values WHERE key = ?`, key).
		Scan(&value, &source)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return value, source, true, nil
}

// SaveSnapshot records one reliability floor computation.
func (s *SQLiteStore) SaveSnapshot(st reliability.State) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO reliability_snapshots
        (computed_at, floor_pct, cushion_pct, outage_risk, pv_confidence, load_confidence)
        VALUES (?, ?, ?, ?, ?, ?)`,
		st.ComputedAt.Unix(), st.EffectiveMinSoCPct, st.DynamicCushionPct,
		st.OutageRiskScore, st.PVConfidence.String(), st.LoadConfidence.String())
	return err
}

// SaveOutcome records one night's outcome for the Auto-Tuner.
func (s *SQLiteStore) SaveOutcome(o backtest.DayOutcome) error {
	day := time.Date(o.Date.Year(), o.Date.Month(), o.Date.Day(), 0, 0, 0, 0, time.UTC)
	_, err := s.db.Exec(`INSERT OR REPLACE INTO day_outcomes
        (day, sunset_soc_pct, sunrise_soc_pct, night_load_kwh, grid_kwh, capacity_kwh, outage_events)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		day.Unix(), o.SunsetSoCPct, o.SunriseSoC, o.NightLoadKWh,
		o.GridKWh, o.CapacityKWh, o.OutageEvents)
	return err
}

// SaveSetpoint records one inverter's share of an allocation round.
func (s *SQLiteStore) SaveSetpoint(r coremetrics.SplitRecord) error {
	_, err := s.db.Exec(`INSERT INTO setpoints
        (at, inverter_id, target_w, charge_w, discharge_w, headroom_w, rated_w, unmet_w)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Time.Unix(), r.InverterID, r.TargetW, r.ChargeW,
		r.DischargeW, r.HeadroomW, r.RatedW, r.UnmetW)
	return err
}

// RecentOutcomes returns the last n outcomes, oldest first.
func (s *SQLiteStore) RecentOutcomes(n int) ([]backtest.DayOutcome, error) {
	rows, err := s.db.Query(`SELECT day, sunset_soc_pct, sunrise_soc_pct,
        night_load_kwh, grid_kwh, capacity_kwh, outage_events
        FROM day_outcomes ORDER BY day DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []backtest.DayOutcome
	for rows.Next() {
		var ts int64
		var o backtest.DayOutcome
		if err := rows.Scan(&ts, &o.SunsetSoCPct, &o.SunriseSoC,
			&o.NightLoadKWh, &o.GridKWh, &o.CapacityKWh, &o.OutageEvents); err != nil {
			return nil, err
		}
		o.Date = time.Unix(ts, 0).UTC()
		res = append(res, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

package audit

import (
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vperret/gridpilot/infra/logger"
)

// Config holds the audit trail settings.
type Config struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Path == "" {
		c.Path = "gridpilot-audit.jsonl"
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 20
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 90
	}
}

type entry struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Payload any       `json:"payload"`
}

// Writer appends one JSON line per decision to a size-rotated file. Entries
// are what an operator replays when asking why the hub did something at 03:12.
type Writer struct {
	mu  sync.Mutex
	out *lumberjack.Logger
	log logger.Logger
}

// NewWriter creates a Writer.
func NewWriter(cfg Config) *Writer {
	cfg.SetDefaults()
	return &Writer{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		log: logger.New("audit"),
	}
}

// Record appends one entry. Failures are logged, never propagated: the audit
// trail must not take the control loop down with it.
func (w *Writer) Record(kind string, payload any) {
	b, err := json.Marshal(entry{Time: time.Now().UTC(), Kind: kind, Payload: payload})
	if err != nil {
		w.log.Errorf("audit marshal: %v", err)
		return
	}
	b = append(b, '\n')
	w.mu.Lock()
	_, err = w.out.Write(b)
	w.mu.Unlock()
	if err != nil {
		w.log.Errorf("audit write: %v", err)
	}
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}

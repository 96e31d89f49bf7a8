package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewWriter(Config{Path: path})
	defer func() { _ = w.Close() }()

	w.Record("grid_transition", map[string]any{"available": false})
	w.Record("dispatch", map[string]any{"inverter": "inv-1", "written": 4})

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var kinds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e struct {
			Kind    string         `json:"kind"`
			Payload map[string]any `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		kinds = append(kinds, e.Kind)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"grid_transition", "dispatch"}, kinds)
}

func TestRecordUnmarshalablePayloadDoesNotPanic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w := NewWriter(Config{Path: path})
	defer func() { _ = w.Close() }()

	w.Record("bad", make(chan int))
}

package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("warn", &buf)

	log.Debug("ignorado", nil)
	log.Info("ignorado", nil)
	log.Warn("cota quase cheia", map[string]interface{}{"site_id": "s1"})
	log.Error("falha", errors.New("db down"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "s1", entry.Fields["site_id"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "db down", entry.Error)
}

func TestSimpleLogger_FatalExits(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("debug", &buf).(*SimpleLogger)
	code := -1
	log.exit = func(c int) { code = c }

	log.Fatal("sem banco", errors.New("connection refused"))

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "FATAL")
}

func TestNewLoggerWithWriter_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("verbose", &buf)

	log.Debug("não aparece", nil)
	log.Info("aparece", nil)

	assert.NotContains(t, buf.String(), "não aparece")
	assert.Contains(t, buf.String(), "aparece")
}

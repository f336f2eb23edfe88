package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf).Component("risk")

	log.Info("checked %d limits", 6)
	log.Trade("filled %s", "NIFTY")
	log.LogError("place failed", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "checked 6 limits")
	assert.Contains(t, out, "component=risk")
	assert.Contains(t, out, "kind=TRADE")
	assert.Contains(t, out, "error=boom")
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")
	log, err := New(Config{Level: "debug", OutputFile: path, MaxSize: 1})
	require.NoError(t, err)

	log.Warning("drawdown %.2f", 0.05)
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "drawdown 0.05")
}

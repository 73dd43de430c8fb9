package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("pmps-ui", "debug", "json", &buf)
	log.Named("bus").Debug("dispatcher started", "queue", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pmps-ui.bus", line["@module"])
	assert.Equal(t, "dispatcher started", line["@message"])
	assert.Equal(t, float64(3), line["queue"])
}

func TestNewLevelFallback(t *testing.T) {
	var buf bytes.Buffer
	log := New("pmps-ui", "nonsense", "text", &buf)
	log.Debug("hidden")
	assert.Empty(t, buf.String())
	log.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := Writer(New("http", "info", "text", &buf))
	_, err := w.Write([]byte("[WARN] slow request\n"))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "slow request")
}

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	Component(logger, "health").Debug("probe finished", "backend", "LOCAL_CACHE")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "health", record["component"])
	assert.Equal(t, "LOCAL_CACHE", record["backend"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frontdesk.log")
	var buf bytes.Buffer
	logger, closer, err := New(Options{File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	logger.Info("written to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to both")
	assert.Contains(t, buf.String(), "written to both")
}

func TestNew_InvalidOptions(t *testing.T) {
	_, _, err := New(Options{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
	_, _, err = New(Options{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNew_AutoFormatOffTerminalIsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Format: "auto"}, &buf)
	require.NoError(t, err)

	logger.Info("piped")
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "piped", record["msg"])
}

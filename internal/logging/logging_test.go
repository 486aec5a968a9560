package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	log, err := New(Options{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	log.Debug("hello", zap.String("user", "u1"))
	_ = log.Sync()

	bz, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(bz))), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "u1", line["user"])
}

func TestNewLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	log, err := New(Options{Level: "warn", File: path})
	require.NoError(t, err)
	log.Info("quiet")
	log.Warn("loud")
	_ = log.Sync()

	bz, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(bz), "quiet")
	assert.Contains(t, string(bz), "loud")
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "WARN", Format: "text"}))
	SetOutput(&buf)
	t.Cleanup(func() { _ = Configure(Options{Level: "INFO"}) })

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(Options{Level: "DEBUG", Format: "json"}))
	SetOutput(&buf)
	t.Cleanup(func() { _ = Configure(Options{Level: "INFO"}) })

	Debug("feed %s refreshed", "demo")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "feed demo refreshed", entry["msg"])
	assert.Equal(t, "debug", entry["level"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedfs.log")
	require.NoError(t, Configure(Options{Level: "INFO", Output: path}))

	Info("written to file")
	require.NoError(t, Close())
	t.Cleanup(func() { _ = Configure(Options{Level: "INFO"}) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestConfigureRejectsUnknownFormat(t *testing.T) {
	assert.Error(t, Configure(Options{Level: "INFO", Format: "xml"}))
	assert.Error(t, Configure(Options{Level: "LOUD"}))
}

func TestRecentRing(t *testing.T) {
	r := newRing(3)
	assert.Empty(t, r.snapshot())

	r.add("a")
	r.add("b")
	assert.Equal(t, []string{"a", "b"}, r.snapshot())

	r.add("c")
	r.add("d")
	assert.Equal(t, []string{"b", "c", "d"}, r.snapshot())
}

func TestRecentCapturesLines(t *testing.T) {
	SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { SetOutput(os.Stdout) })

	Info("marker-%s", "xyz")

	found := false
	for _, line := range Recent() {
		if strings.Contains(line, "marker-xyz") {
			found = true
		}
	}
	assert.True(t, found)
}

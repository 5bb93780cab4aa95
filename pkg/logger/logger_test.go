package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/kioskshop/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kiosk.log")
	l, err := New(config.LogConfig{
		Level:       "debug",
		Encoding:    "json",
		OutputPaths: []string{"stderr"},
		File:        path,
		MaxSizeMB:   1,
	})
	require.NoError(t, err)

	l.Info("checkout committed")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "checkout committed")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

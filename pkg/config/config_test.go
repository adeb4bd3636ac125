package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout.Std())
	assert.Equal(t, "text", cfg.OutputFormat)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("log_level: debug\nconnect_timeout: 12s\nservice_filter: [\"180d\"]\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.ParseLevel())
	assert.Equal(t, 12*time.Second, cfg.ConnectTimeout.Std())
	assert.Equal(t, []string{"180d"}, cfg.ServiceFilter)
	// untouched fields keep defaults
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout.Std())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestParseLevelFallsBack(t *testing.T) {
	cfg := &Config{LogLevel: "chatty"}
	assert.Equal(t, logrus.WarnLevel, cfg.ParseLevel())
}

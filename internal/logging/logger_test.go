package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/pseusage/internal/config"
)

func TestNew_LevelAndFormat(t *testing.T) {
	logger, closer, err := New(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNew_Invalid(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, _, err = New(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_WritesLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := New(config.LoggingConfig{Format: "text", Dir: dir})
	require.NoError(t, err)

	logger.Info("hello from the refresher")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "pse_usage.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the refresher")
}

package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLevel(t *testing.T) {
	logger := log.New()
	closer, err := configure(logger, Config{Level: "debug"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, logger.Formatter)
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	_, err := configure(log.New(), Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestConfigureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "controller.log")
	logger := log.New()

	cfg := DefaultConfig()
	cfg.File = path
	cfg.JSON = true
	closer, err := configure(logger, cfg)
	require.NoError(t, err)

	logger.WithField("relay", "LED").Info("relay switched")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"relay":"LED"`)
	assert.Contains(t, string(data), `"msg":"relay switched"`)
}

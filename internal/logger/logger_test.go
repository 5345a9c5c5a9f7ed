package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartouche/internal/logger"
)

func TestNew(t *testing.T) {
	t.Run("json with attributes", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(
			logger.WithFormat(logger.FormatJSON),
			logger.WithOutput(&buf),
			logger.WithAttr(logger.Component("probe")),
		)
		log.Info("probe finished", logger.Host("capsule.test"), logger.Error(errors.New("boom")))

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "probe finished", record["msg"])
		assert.Equal(t, "probe", record["component"])
		assert.Equal(t, "capsule.test", record["host"])
		assert.Equal(t, "boom", record["error"])
	})

	t.Run("level filters records", func(t *testing.T) {
		var buf bytes.Buffer
		log := logger.New(logger.WithLevel(slog.LevelWarn), logger.WithOutput(&buf))
		log.Info("hidden")
		assert.Empty(t, buf.String())
		log.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("nil error adds nothing", func(t *testing.T) {
		var buf bytes.Buffer
		logger.New(logger.WithOutput(&buf)).Info("ok", logger.Error(nil))
		assert.NotContains(t, buf.String(), "error=")
	})
}

func TestParseLevel(t *testing.T) {
	level, err := logger.ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	_, err = logger.ParseLevel("loud")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	format, err := logger.ParseFormat("json")
	require.NoError(t, err)
	assert.Equal(t, logger.FormatJSON, format)

	_, err = logger.ParseFormat("xml")
	assert.Error(t, err)
}

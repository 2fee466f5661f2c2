package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/studyflow/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json format with service attribute", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := logger.New(logger.Config{Level: "info", Format: logger.FormatJSON, Service: "billing"}, &buf)
		require.NoError(t, err)

		log.Info("hello", "user_id", "u1")

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "hello", record["msg"])
		assert.Equal(t, "billing", record["service"])
		assert.Equal(t, "u1", record["user_id"])
	})

	t.Run("level filters lower records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := logger.New(logger.Config{Level: "warn"}, &buf)
		require.NoError(t, err)

		log.Info("dropped")
		assert.Zero(t, buf.Len())

		log.Warn("kept")
		assert.NotZero(t, buf.Len())
	})

	t.Run("unknown level rejected", func(t *testing.T) {
		t.Parallel()

		_, err := logger.New(logger.Config{Level: "loud"}, nil)
		assert.Error(t, err)
	})

	t.Run("unknown format rejected", func(t *testing.T) {
		t.Parallel()

		_, err := logger.New(logger.Config{Format: "xml"}, nil)
		assert.Error(t, err)
	})
}

package helpers

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerStampsFields(t *testing.T) {
	logger := NewLogger("homekeep", "production", "warn")
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("env", "override").Warn("disk low")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "homekeep", line["app"])
	assert.Equal(t, "override", line["env"])
	assert.Equal(t, "disk low", line["message"])
}

func TestNewLoggerBadLevelKeepsDefault(t *testing.T) {
	logger := NewLogger("homekeep", "development", "loud")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

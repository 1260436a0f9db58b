package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLogLevel("warning"))
	assert.Equal(t, ERROR, ParseLogLevel("error"))
	assert.Equal(t, INFO, ParseLogLevel("nonsense"))
}

func TestLoggerWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, zapcore.AddSync(&buf))

	l.Debug("hidden %d", 1)
	l.With(zap.String("campaign", "c-1")).Info("released %d escrows", 2)
	l.Sync()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "released 2 escrows", entry["message"])
	assert.Equal(t, "c-1", entry["campaign"])
	assert.Contains(t, entry, "timestamp")
}

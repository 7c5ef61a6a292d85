package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrelay/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.LoggingConfig
		wantErr bool
	}{
		{name: "info level", cfg: &config.LoggingConfig{Level: "info"}},
		{name: "debug level", cfg: &config.LoggingConfig{Level: "debug"}},
		{name: "empty level defaults to info", cfg: &config.LoggingConfig{}},
		{name: "invalid log level", cfg: &config.LoggingConfig{Level: "invalid"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestNewWithRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "igrelay.log")

	l, err := New(&config.LoggingConfig{Level: "info", File: path, MaxSize: 1, MaxBackups: 1})
	require.NoError(t, err)

	l.Info("written to file")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
		wantErr  bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"INFO", zerolog.InfoLevel, false},
		{"warning", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"disabled", zerolog.Disabled, false},
		{"verbose", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := parseLogLevel(tt.level)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, zerolog.DebugLevel)

	l.WithField("chat_id", int64(42)).
		WithError(errors.New("boom")).
		InfoWithFields("relayed", map[string]interface{}{"items": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "igrelay", entry["app"])
	assert.Equal(t, "relayed", entry["message"])
	assert.Equal(t, float64(42), entry["chat_id"])
	assert.Equal(t, float64(3), entry["items"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, zerolog.WarnLevel)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := newWithWriter(&buf, zerolog.InfoLevel)
	_ = parent.WithField("request_id", "abc")

	parent.Info("plain")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestTestLoggerCapturesDerivedLoggers(t *testing.T) {
	l := NewTestLogger()
	derived := l.WithField("user_id", int64(7)).WithError(errors.New("denied"))

	derived.Warn("rejected")
	l.Info("plain")

	messages := l.GetMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, "WARN", messages[0].Level)
	assert.Equal(t, int64(7), messages[0].Fields["user_id"])
	assert.EqualError(t, messages[0].Error, "denied")
	assert.True(t, l.HasMessage("plain"))
	assert.False(t, l.HasError())

	l.Clear()
	assert.Empty(t, l.GetMessages())
}

func TestLogDelivery(t *testing.T) {
	l := NewTestLogger()

	LogDelivery(l, 1, "abc", 2, nil)
	LogDelivery(l, 1, "abc", 0, errors.New("send failed"))

	assert.True(t, l.HasMessage("Delivery completed"))
	errs := l.GetMessagesByLevel("ERROR")
	require.Len(t, errs, 1)
	assert.Equal(t, "abc", errs[0].Fields["shortcode"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.WithField("a", 1).WithError(errors.New("x")).Info("nothing")
	assert.Nil(t, l.GetZerolog())
}

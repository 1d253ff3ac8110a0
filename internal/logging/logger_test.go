package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "secret is redacted",
			input:    "my-secret-password",
			expected: "[REDACTED]",
		},
		{
			name:     "empty secret is still redacted",
			input:    "",
			expected: "[REDACTED]",
		},
		{
			name:     "complex secret is redacted",
			input:    "password123!@#",
			expected: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Secret(tt.input).String())
			assert.Equal(t, tt.expected, fmt.Sprintf("%#v", Secret(tt.input)))
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)

	logger.Info("stored %s", "credential")
	logger.Warn("table %s missing", "credentials")
	logger.Error("connect failed")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "✓ stored credential\n")
	assert.Contains(t, out, "⚠ table credentials missing\n")
	assert.Contains(t, out, "✗ connect failed\n")
	assert.NotContains(t, out, "hidden")
	assert.False(t, logger.DebugEnabled())
}

func TestLoggerDebugMode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	logger.Debug("resolved uri %s", "postgresql://postgres@localhost")

	assert.True(t, logger.DebugEnabled())
	assert.Equal(t, "[DEBUG] resolved uri postgresql://postgres@localhost\n", buf.String())
}

func TestLoggerColor(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, false)

	logger.Info("ok")

	assert.Equal(t, "\033[32m✓\033[0m ok\n", buf.String())
}

func TestLoggerRedactsSecretArguments(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	logger.Info("password is %s", Secret("hunter22"))
	logger.Debug("value %v", Secret("hunter22"))

	assert.NotContains(t, buf.String(), "hunter22")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.Info("nothing")
		logger.Debug("nothing")
	})
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		secrets []string
		want    string
	}{
		{
			name:    "replaces every occurrence",
			input:   "postgresql://app:s3cr3t@db/s3cr3t",
			secrets: []string{"s3cr3t"},
			want:    "postgresql://app:[REDACTED]@db/[REDACTED]",
		},
		{
			name:    "short secrets are left alone",
			input:   "a:b@c",
			secrets: []string{"b"},
			want:    "a:b@c",
		},
		{
			name:    "empty secrets are ignored",
			input:   "nothing to hide",
			secrets: []string{""},
			want:    "nothing to hide",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.input, tt.secrets))
		})
	}
}

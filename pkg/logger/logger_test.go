package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewWithWriters(&out, &errOut, "conn")
	l.SetLevel(LevelWarn)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "WARN: [conn] shown 3")
	assert.Contains(t, errOut.String(), "ERROR: [conn] shown 4")
}

func TestLogger_NamedSharesLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	root := NewWithWriters(&out, &errOut, "")
	child := root.Named("presence")

	root.SetLevel(LevelDebug)
	child.Debug("tick")

	assert.Contains(t, out.String(), "DEBUG: [presence] tick")
}

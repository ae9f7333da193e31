// Copyright 2021 Converter Systems LLC. All rights reserved.

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSlogJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogWriter(buf, InfoLevel, false, false)

	l.Debug("hidden")
	assert.Equal(t, 0, buf.Len())

	l.With("channelID", 7).Info("channel opened", "policy", "None")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "channel opened", rec["msg"])
	assert.Equal(t, float64(7), rec["channelID"])
	assert.Equal(t, "None", rec["policy"])
	assert.Contains(t, rec, "ts")
}

func TestSlogLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogWriter(buf, WarnLevel, false, false)
	assert.Equal(t, WarnLevel, l.Level())

	child := l.With("k", "v")
	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, child.Level())
	child.Debug("trace")
	assert.True(t, strings.Contains(buf.String(), "trace"))
}

func TestSlogConsole(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewSlogWriter(buf, InfoLevel, false, true)
	l.Error("channel failed", "status", "BadSequenceNumberInvalid")
	assert.Contains(t, buf.String(), "channel failed")
	assert.Contains(t, buf.String(), "BadSequenceNumberInvalid")
}

func TestDefaultLogger(t *testing.T) {
	prev := GetLogger()
	defer SetLogger(prev)

	m := NewMockLogger()
	m.On("With", "a", 1).Return(m)
	m.On("Info", "hello", mock.Anything).Return()
	SetLogger(m)

	With("a", 1).Info("hello")
	m.AssertExpectations(t)
}

func TestMockLoggerLevel(t *testing.T) {
	m := NewMockLogger().Ignore(WarnLevel)
	m.On("With", "channel", uint32(3)).Return()
	m.SetLevel(WarnLevel)

	child := m.With("channel", uint32(3))
	assert.Equal(t, child, Logger(m))
	child.Info("dropped")
	child.Warn("token expired", "token", 2)

	m.AssertCalled(t, "Warn", "token expired", []any{"token", 2})
	m.AssertNotCalled(t, "Info", "dropped", mock.Anything)
	assert.Equal(t, WarnLevel, m.Level())
}

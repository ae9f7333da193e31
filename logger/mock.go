// Copyright 2021 Converter Systems LLC. All rights reserved.

package logger

import (
	"sync/atomic"

	"github.com/stretchr/testify/mock"
)

// MockLogger is a Logger backed by a testify mock, used to assert what the
// channels log. Log calls are recorded under the method names "Debug",
// "Info", "Warn" and "Error" with two arguments: the message and the
// key-value slice. Calls below the logger level are dropped unrecorded.
//
// With is recorded with the key-values as arguments. It returns the Logger
// given to Return, or the mock itself when the expectation has no return
// value, so that child loggers of a channel report to the same mock.
type MockLogger struct {
	mock.Mock
	level atomic.Int32
}

var _ Logger = (*MockLogger)(nil)

// NewMockLogger returns a MockLogger enabled at DebugLevel.
func NewMockLogger() *MockLogger {
	m := &MockLogger{}
	m.level.Store(int32(DebugLevel))
	return m
}

var levelMethods = map[Level]string{
	DebugLevel: "Debug",
	InfoLevel:  "Info",
	WarnLevel:  "Warn",
	ErrorLevel: "Error",
}

// Ignore accepts any message at the levels without requiring it. The
// calls are still recorded for AssertCalled.
func (m *MockLogger) Ignore(levels ...Level) *MockLogger {
	for _, level := range levels {
		m.On(levelMethods[level], mock.Anything, mock.Anything).Return().Maybe()
	}
	return m
}

func (m *MockLogger) log(level Level, msg string, keysAndValues []any) {
	if level < m.Level() {
		return
	}
	m.MethodCalled(levelMethods[level], msg, keysAndValues)
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.log(DebugLevel, msg, keysAndValues)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.log(InfoLevel, msg, keysAndValues)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.log(WarnLevel, msg, keysAndValues)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.log(ErrorLevel, msg, keysAndValues)
}

func (m *MockLogger) SetLevel(level Level) { m.level.Store(int32(level)) }

func (m *MockLogger) Level() Level { return Level(m.level.Load()) }

func (m *MockLogger) With(keyValues ...any) Logger {
	args := m.Called(keyValues...)
	if len(args) > 0 {
		if l, ok := args.Get(0).(Logger); ok {
			return l
		}
	}
	return m
}

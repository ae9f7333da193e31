// Copyright 2021 Converter Systems LLC. All rights reserved.

// Package logger is the structured logging facade of the stack.
//
// Log Levels:
//
//   - DebugLevel: chunk and message traces, disabled by default.
//   - InfoLevel: channel lifecycle.
//   - WarnLevel: recoverable protocol errors.
//   - ErrorLevel: channel failures.
package logger

// Level indicates the logging severity level.
type Level = int8

const (
	// DebugLevel logs are voluminous and usually disabled.
	DebugLevel Level = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
)

// Logger defines the logging interface used by the client and server.
type Logger interface {
	// Debug logs a message with key-value pairs at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message with key-value pairs at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message with key-value pairs at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message with key-value pairs at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// With creates a child logger carrying the key-values.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() Level
	// SetLevel sets the minimum enabled level.
	SetLevel(level Level)
}

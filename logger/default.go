// Copyright 2021 Converter Systems LLC. All rights reserved.

package logger

import "sync/atomic"

var defLogger atomic.Value

func init() {
	defLogger.Store(holder{NewSlog(InfoLevel, false)})
}

type holder struct{ Logger }

// GetLogger returns the package default logger.
func GetLogger() Logger {
	return defLogger.Load().(holder).Logger
}

// SetLogger replaces the package default logger.
func SetLogger(l Logger) {
	defLogger.Store(holder{l})
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	GetLogger().SetLevel(level)
}

// With returns a child of the default logger.
func With(keyValues ...any) Logger {
	return GetLogger().With(keyValues...)
}

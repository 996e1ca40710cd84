package system

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// NewTestZapLogger writes through t.Log at debug level so output is only
// shown for failing or verbose tests. Stack traces are suppressed.
func NewTestZapLogger(t zaptest.TestingT) *zap.Logger {
	return zaptest.NewLogger(t,
		zaptest.Level(zapcore.DebugLevel),
		zaptest.WrapOptions(zap.AddStacktrace(zapcore.FatalLevel)),
	)
}

// NewTestLogger is the sugared form of NewTestZapLogger.
func NewTestLogger(t zaptest.TestingT) *zap.SugaredLogger {
	return NewTestZapLogger(t).Sugar()
}

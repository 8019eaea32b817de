// Package log provides the leveled loggers shared by the whole module.
//
// Two loggers are exposed: Debug for wire traces and driver internals, and
// Info for user-relevant events. Debug output is disabled unless the
// COLORD_VERBOSE environment variable is set to a non-empty value.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the printf-style surface the rest of the module logs through.
type Logger interface {
	Printf(format string, args ...interface{})
	Println(args ...interface{})
}

type sugared struct {
	s *zap.SugaredLogger
}

func (l *sugared) Printf(format string, args ...interface{}) {
	if l.s != nil {
		l.s.Infof(format, args...)
	}
}

func (l *sugared) Println(args ...interface{}) {
	if l.s != nil {
		l.s.Info(args...)
	}
}

type nop struct{}

func (nop) Printf(string, ...interface{}) {}
func (nop) Println(...interface{})        {}

// The module's two defined loggers.
var (
	Debug Logger = nop{}
	Info  Logger = nop{}
)

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	base, err := cfg.Build()
	if err != nil {
		return
	}
	Info = &sugared{s: base.Sugar().Named("colord")}
	if os.Getenv("COLORD_VERBOSE") != "" {
		Debug = &sugared{s: base.Sugar().Named("colord.debug")}
	}
}

// SetDebugLogger replaces the debug logger, typically from tests.
func SetDebugLogger(l Logger) {
	if l == nil {
		Debug = nop{}
		return
	}
	Debug = l
}

// SetInfoLogger replaces the info logger.
func SetInfoLogger(l Logger) {
	if l == nil {
		Info = nop{}
		return
	}
	Info = l
}

// Verbose reports whether debug tracing is enabled.
func Verbose() bool {
	_, off := Debug.(nop)
	return !off
}

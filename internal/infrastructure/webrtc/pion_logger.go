package webrtc

import (
	"strings"

	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLoggerFactory routes pion's internal logging through zap. pion is chatty
// at debug, so it gets its own threshold.
type zapLoggerFactory struct {
	logger *zap.Logger
	level  zapcore.Level
}

func newZapLoggerFactory(logger *zap.Logger, level string) logging.LoggerFactory {
	lvl := zapcore.WarnLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			lvl = zapcore.WarnLevel
		}
	}
	return &zapLoggerFactory{logger: logger, level: lvl}
}

func (f *zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.logger.
		WithOptions(zap.IncreaseLevel(f.level), zap.AddCallerSkip(1)).
		With(zap.String("component", "pion"), zap.String("scope", scope))
	return &zapLeveledLogger{sugar: l.Sugar()}
}

type zapLeveledLogger struct {
	sugar *zap.SugaredLogger
}

// zap has no trace level; trace maps to debug.
func (l *zapLeveledLogger) Trace(msg string)                          { l.sugar.Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLeveledLogger) Debug(msg string)                          { l.sugar.Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLeveledLogger) Info(msg string)                           { l.sugar.Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLeveledLogger) Warn(msg string)                           { l.sugar.Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLeveledLogger) Error(msg string)                          { l.sugar.Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger adapts zap to Logger. The level filter is applied on top of the zap core,
// so zap may still drop entries that pass it.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{sugared: z.Sugar(), level: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

type zapLogger struct {
	sugared *zap.SugaredLogger
	level   zap.AtomicLevel
}

func (z *zapLogger) Log(level Level, v ...interface{}) {
	zapLvl := toZapLevel(level)

	if zapLvl < zapcore.DPanicLevel && !z.level.Enabled(zapLvl) {
		return
	}

	msg := fmt.Sprint(v...)

	switch zapLvl {
	case zapcore.PanicLevel:
		z.sugared.Panic(msg)
	case zapcore.FatalLevel:
		z.sugared.Fatal(msg)
	case zapcore.ErrorLevel:
		z.sugared.Error(msg)
	case zapcore.WarnLevel:
		z.sugared.Warn(msg)
	case zapcore.InfoLevel:
		z.sugared.Info(msg)
	default:
		z.sugared.Debug(msg)
	}
}

func (z *zapLogger) Logf(level Level, template string, args ...interface{}) {
	z.Log(level, fmt.Sprintf(template, args...))
}

func (z *zapLogger) SetLevel(level Level) {
	z.level.SetLevel(toZapLevel(level))
}

func (z *zapLogger) WithFields(fields Fields) Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}

	return &zapLogger{sugared: z.sugared.With(args...), level: z.level}
}

// trace has no zap counterpart and is logged as debug
func toZapLevel(level Level) zapcore.Level {
	switch level {
	case PanicLevel:
		return zapcore.PanicLevel
	case FatalLevel:
		return zapcore.FatalLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case InfoLevel:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Package logx provides the structured logger used throughout the call engine.
package logx

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging contract used by every core package.
// Keyed arguments follow zap's SugaredLogger convention: alternating key, value pairs.
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warn(args ...any)
	Error(args ...any)
	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
	With(kv ...any) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production logger that writes JSON to stdout and, if logFile is
// non-empty, also rotates into logFile via lumberjack.
func New(logFile string, debug bool) Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if logFile != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     28,
			Compress:   true,
		}))
	}
	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	l := zap.New(core, zap.AddCaller())
	return &zapLogger{s: l.Sugar()}
}

// NewDevelopment returns a human-readable console logger for tests and local runs.
func NewDevelopment() Logger {
	l, _ := zap.NewDevelopment()
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debug(args ...any)             { z.s.Debug(args...) }
func (z *zapLogger) Info(args ...any)              { z.s.Info(args...) }
func (z *zapLogger) Warn(args ...any)              { z.s.Warn(args...) }
func (z *zapLogger) Error(args ...any)             { z.s.Error(args...) }
func (z *zapLogger) Debugw(msg string, kv ...any)  { z.s.Debugw(msg, kv...) }
func (z *zapLogger) Infow(msg string, kv ...any)   { z.s.Infow(msg, kv...) }
func (z *zapLogger) Warnw(msg string, kv ...any)   { z.s.Warnw(msg, kv...) }
func (z *zapLogger) Errorw(msg string, kv ...any)  { z.s.Errorw(msg, kv...) }
func (z *zapLogger) With(kv ...any) Logger         { return &zapLogger{s: z.s.With(kv...)} }

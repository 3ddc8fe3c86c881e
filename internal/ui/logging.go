package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the CLI logger. Messages go to stdout, or the WithOutput
// writer, in console form and, when a log file is set, to a rotated JSON
// file.
type Logger struct {
	Debug bool

	z      *zap.Logger
	closer io.Closer
}

type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	file   string
	stdout zapcore.WriteSyncer
}

func WithLogFile(path string) LoggerOption {
	return func(o *loggerOptions) {
		o.file = path
	}
}

func WithOutput(w io.Writer) LoggerOption {
	return func(o *loggerOptions) {
		o.stdout = zapcore.Lock(zapcore.AddSync(w))
	}
}

func EncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.TimeKey = "timestamp"
	return cfg
}

func rotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:  path,
		MaxSize:   200,
		LocalTime: true,
		Compress:  true,
	}
}

func NewLogger(debug bool, opts ...LoggerOption) *Logger {
	o := loggerOptions{stdout: zapcore.Lock(zapcore.AddSync(os.Stdout))}
	for _, opt := range opts {
		opt(&o)
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	console := EncoderConfig()
	console.TimeKey = ""
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(console), o.stdout, level),
	}

	l := &Logger{Debug: debug}
	if o.file != "" {
		w := rotatingFile(o.file)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(w), zapcore.DebugLevel))
		l.closer = w
	}

	l.z = zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.DPanicLevel))
	return l
}

// Zap returns the structured logger handed to library packages.
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

func (l *Logger) Debugf(format string, args ...any) {
	l.z.Debug(msg(format, args))
}

func (l *Logger) Infof(format string, args ...any) {
	l.z.Info(msg(format, args))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.z.Warn(msg(format, args))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.z.Error(msg(format, args))
}

func (l *Logger) Close() error {
	_ = l.z.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func msg(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

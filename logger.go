package cakemail

import (
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
)

// Logger receives debug and diagnostic output from the client. Key-value
// pairs follow the message, alternating keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes formatted log lines to stderr using the standard log
// package. Suitable for examples and local debugging.
type SimpleLogger struct {
	l *log.Logger
}

// NewSimpleLogger creates a console logger.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{l: log.New(os.Stderr, "cakemail ", log.LstdFlags)}
}

func (s *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	s.print("DEBUG", msg, keysAndValues)
}

func (s *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	s.print("INFO", msg, keysAndValues)
}

func (s *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	s.print("WARN", msg, keysAndValues)
}

func (s *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	s.print("ERROR", msg, keysAndValues)
}

func (s *SimpleLogger) print(level, msg string, kv []interface{}) {
	line := level + " " + msg
	for i := 0; i+1 < len(kv); i += 2 {
		line += fmt.Sprintf(" %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		line += fmt.Sprintf(" %v", kv[len(kv)-1])
	}
	s.l.Println(line)
}

// zapLogger adapts a zap.Logger to the client's Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps a zap.Logger so it can be passed to WithLogger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.s.Debugw(msg, keysAndValues...)
}

func (z *zapLogger) Info(msg string, keysAndValues ...interface{}) {
	z.s.Infow(msg, keysAndValues...)
}

func (z *zapLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.s.Warnw(msg, keysAndValues...)
}

func (z *zapLogger) Error(msg string, keysAndValues ...interface{}) {
	z.s.Errorw(msg, keysAndValues...)
}

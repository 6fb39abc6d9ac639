package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zapLevels = map[Level]zapcore.Level{
	DEBUG: zapcore.DebugLevel,
	INFO:  zapcore.InfoLevel,
	WARN:  zapcore.WarnLevel,
	ERROR: zapcore.ErrorLevel,
}

// Logger provides structured JSON logging with optional IP redaction.
type Logger struct {
	mu       sync.RWMutex
	zl       *zap.Logger
	level    zap.AtomicLevel
	redactIP bool
}

var defaultLogger = New(INFO, true)

// New creates a JSON logger writing to stderr.
func New(l Level, redactIP bool) *Logger {
	level := zap.NewAtomicLevelAt(zapLevels[l])
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return &Logger{zl: zap.New(core), level: level, redactIP: redactIP}
}

// ParseLevel maps a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.SetLevel(zapLevels[l]) }

// SetRedactIP enables or disables IP redaction for the default logger.
func SetRedactIP(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactIP = r
	defaultLogger.mu.Unlock()
}

// Sync flushes buffered entries of the default logger.
func Sync() { _ = defaultLogger.zl.Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.Debug(msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.Info(msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.Error(msg, fields...) }

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(zapcore.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(zapcore.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(zapcore.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(zapcore.ErrorLevel, msg, fields) }

func (l *Logger) log(level zapcore.Level, msg string, fields []interface{}) {
	ce := l.zl.Check(level, msg)
	if ce == nil {
		return
	}
	ce.Write(l.zapFields(fields)...)
}

// zapFields parses key-value pairs. A trailing key without a value is dropped.
func (l *Logger) zapFields(fields []interface{}) []zap.Field {
	l.mu.RLock()
	redact := l.redactIP
	l.mu.RUnlock()

	out := make([]zap.Field, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		if err, ok := fields[i+1].(error); ok {
			out = append(out, zap.String(key, err.Error()))
			continue
		}
		val := fmt.Sprintf("%v", fields[i+1])
		if redact && isIPKey(key) {
			val = RedactIP(val)
		}
		out = append(out, zap.String(key, val))
	}
	return out
}

func isIPKey(key string) bool {
	key = strings.ToLower(key)
	return key == "ip" || strings.HasSuffix(key, "_ip") || strings.Contains(key, "ip_address")
}

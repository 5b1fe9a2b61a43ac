package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu sync.RWMutex

	// Log is the process-wide logger
	Log *zap.Logger
)

// Init configures the global logger.
// level is one of debug, info, warn, error; format is "console" or "json".
func Init(level, format string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch format {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return fmt.Errorf("invalid log format %q (expected console or json)", format)
	}

	// Logs go to stderr so CLI output on stdout stays clean
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), lvl)

	mu.Lock()
	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	mu.Unlock()
	return nil
}

// Get returns a named sugared logger, initializing defaults on first use
func Get(name string) *zap.SugaredLogger {
	mu.RLock()
	l := Log
	mu.RUnlock()
	if l == nil {
		_ = Init("info", "console")
		mu.RLock()
		l = Log
		mu.RUnlock()
	}
	return l.Named(name).Sugar()
}

// Sync flushes buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if Log != nil {
		_ = Log.Sync()
	}
}

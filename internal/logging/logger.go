// Package logging provides config-driven categorized logging for aicore.
// Each subsystem logs through its own category; categories can be disabled
// individually. Output goes through a shared zap logger, which is a no-op
// until Initialize is called, so library code never needs setup in tests.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config loading
	CategoryAPI       Category = "api"       // Provider HTTP calls
	CategoryStream    Category = "stream"    // SSE decoding
	CategorySession   Category = "session"   // Session store, trimming, cache stats
	CategoryRouting   Category = "routing"   // Task router decisions
	CategorySubagent  Category = "subagent"  // Subagent profiles and runs
	CategoryAutopilot Category = "autopilot" // Worker pool and fuse
	CategoryRetry     Category = "retry"     // Retry policy
	CategoryStore     Category = "store"     // SQLite persistence
	CategoryTools     Category = "tools"     // Tool registry and file writes
)

// Config controls the shared logger.
type Config struct {
	Level       string          `mapstructure:"level" yaml:"level"` // debug, info, warn, error
	Development bool            `mapstructure:"development" yaml:"development"`
	JSONFormat  bool            `mapstructure:"json_format" yaml:"json_format"`
	OutputPaths []string        `mapstructure:"output_paths" yaml:"output_paths,omitempty"`
	Categories  map[string]bool `mapstructure:"categories" yaml:"categories,omitempty"`
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the shared zap logger from cfg.
func Initialize(cfg Config) error {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if !cfg.JSONFormat {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	SetBase(logger, cfg.Categories)
	Get(CategoryBoot).Debug("logging initialized (level=%s json=%v)", level, cfg.JSONFormat)
	return nil
}

// SetBase swaps the underlying zap logger. A nil map enables every category.
func SetBase(logger *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	base = logger
	categories = enabled
	loggers = make(map[Category]*Logger)
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	zl := zap.NewNop()
	if categoryEnabledLocked(category) {
		zl = base.Named(string(category))
	}
	l := &Logger{category: category, sugar: zl.Sugar()}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

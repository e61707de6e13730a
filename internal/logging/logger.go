// Package logging provides categorized logging for apigate.
// Every category is a named child of one zap logger that the CLI installs at
// startup. Until then all calls are no-ops, so library packages can log freely
// in tests.
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
	CategoryBoot      Category = "boot"      // Startup, config and pin loading
	CategoryRevision  Category = "revision"  // Git merge-base and worktree handling
	CategoryBuild     Category = "build"     // Per-revision build hook
	CategoryExtract   Category = "extract"   // Snapshot extraction and parsers
	CategoryCompat    Category = "compat"    // Differ and rule table evaluation
	CategoryFeatures  Category = "features"  // Feature additivity checks
	CategoryVerdict   Category = "verdict"   // Verdict, acknowledgments, artifacts
	CategoryToolchain Category = "toolchain" // Pinned tool verification
)

// Config controls how Initialize builds the root logger.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`   // optional extra output path
	// Categories disables individual categories when set to false.
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// Logger wraps a sugared zap logger scoped to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       *zap.Logger
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds a root logger from cfg and installs it.
// verbose forces debug level regardless of cfg.Level.
func Initialize(cfg Config, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if !strings.EqualFold(cfg.Format, "json") {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zcfg.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	Install(logger, cfg.Categories)
	return logger, nil
}

// Install replaces the root logger. A nil logger disables logging.
func Install(logger *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	categories = enabled
	loggers = make(map[Category]*Logger)
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return false
	}
	enabled, exists := categories[string(category)]
	return !exists || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

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
	if root == nil {
		return &Logger{category: category}
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a child logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// WithRunID creates a run-scoped logger so every line of one CI run can be
// correlated in aggregated job logs.
func WithRunID(category Category, runID string) *Logger {
	return Get(category).With("run", runID)
}

// Sync flushes the root logger.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Revision logs to the revision category
func Revision(format string, args ...interface{}) {
	Get(CategoryRevision).Info(format, args...)
}

// RevisionDebug logs debug to the revision category
func RevisionDebug(format string, args ...interface{}) {
	Get(CategoryRevision).Debug(format, args...)
}

// Build logs to the build category
func Build(format string, args ...interface{}) {
	Get(CategoryBuild).Info(format, args...)
}

// BuildError logs errors to the build category
func BuildError(format string, args ...interface{}) {
	Get(CategoryBuild).Error(format, args...)
}

// Extract logs to the extract category
func Extract(format string, args ...interface{}) {
	Get(CategoryExtract).Info(format, args...)
}

// ExtractDebug logs debug to the extract category
func ExtractDebug(format string, args ...interface{}) {
	Get(CategoryExtract).Debug(format, args...)
}

// ExtractWarn logs warnings to the extract category
func ExtractWarn(format string, args ...interface{}) {
	Get(CategoryExtract).Warn(format, args...)
}

// Compat logs to the compat category
func Compat(format string, args ...interface{}) {
	Get(CategoryCompat).Info(format, args...)
}

// CompatDebug logs debug to the compat category
func CompatDebug(format string, args ...interface{}) {
	Get(CategoryCompat).Debug(format, args...)
}

// Features logs to the features category
func Features(format string, args ...interface{}) {
	Get(CategoryFeatures).Info(format, args...)
}

// FeaturesDebug logs debug to the features category
func FeaturesDebug(format string, args ...interface{}) {
	Get(CategoryFeatures).Debug(format, args...)
}

// Verdict logs to the verdict category
func Verdict(format string, args ...interface{}) {
	Get(CategoryVerdict).Info(format, args...)
}

// VerdictWarn logs warnings to the verdict category
func VerdictWarn(format string, args ...interface{}) {
	Get(CategoryVerdict).Warn(format, args...)
}

// Toolchain logs to the toolchain category
func Toolchain(format string, args ...interface{}) {
	Get(CategoryToolchain).Info(format, args...)
}

// ToolchainDebug logs debug to the toolchain category
func ToolchainDebug(format string, args ...interface{}) {
	Get(CategoryToolchain).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// Package logger provides the daemon's file-backed activity log: a leveled
// line logger plus a handful of richer multi-line loggers for specific
// domain events (signals, grid transitions, fill commits, circuit trips).
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger is a per-run file logger for one daemon instance.
type Logger struct {
	tag       string // usually the daemon instance name or "daemon"
	logFile   *os.File
	logger    *log.Logger
	mu        sync.Mutex
	logDir    string
	debugMode bool
}

// LogLevel tags a log line with its kind.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarning  LogLevel = "WARN"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelTrade    LogLevel = "TRADE"
	LogLevelStatus   LogLevel = "STATUS"
	LogLevelDebug    LogLevel = "DEBUG"
	LogLevelSignal   LogLevel = "SIGNAL"
	LogLevelGrid     LogLevel = "GRID"
)

// NewLogger creates a file logger for the given tag (non-debug).
func NewLogger(tag string) (*Logger, error) {
	return NewLoggerWithDebug(tag, false)
}

// NewLoggerWithDebug creates a file logger with debug mode control.
func NewLoggerWithDebug(tag string, debugMode bool) (*Logger, error) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", tag, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		tag:       tag,
		logFile:   file,
		logger:    log.New(file, "", 0),
		logDir:    logDir,
		debugMode: debugMode,
	}
	l.writeSessionHeader()
	return l, nil
}

func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 TRADING DAEMON SESSION STARTED
================================================================================
Component: %s
Started: %s
================================================================================
`, l.tag, time.Now().Format("2006-01-02 15:04:05"))

	l.logger.Print(header)
}

// Log writes a single formatted, leveled line.
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

func (l *Logger) Info(format string, args ...interface{})    { l.Log(LogLevelInfo, format, args...) }
func (l *Logger) Warning(format string, args ...interface{}) { l.Log(LogLevelWarning, format, args...) }
func (l *Logger) Error(format string, args ...interface{})   { l.Log(LogLevelError, format, args...) }
func (l *Logger) Critical(format string, args ...interface{}) {
	l.Log(LogLevelCritical, format, args...)
}
func (l *Logger) Trade(format string, args ...interface{})  { l.Log(LogLevelTrade, format, args...) }
func (l *Logger) Status(format string, args ...interface{}) { l.Log(LogLevelStatus, format, args...) }
func (l *Logger) Debug(format string, args ...interface{})  { l.Log(LogLevelDebug, format, args...) }

// LogSignal logs a computed trading signal before it is handed to C5.
func (l *Logger) LogSignal(stockCode, strategy, signalType string, price float64, volume int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf(`
[%s] [SIGNAL] ==================== SIGNAL %s ====================
📈 Symbol: %s | Strategy: %s
💰 Price: %.4f | Volume: %d
=============================================================`,
		timestamp, signalType, stockCode, strategy, price, volume)
	l.logger.Println(entry)
}

// LogGridTransition logs a price-tracker state transition for one session.
func (l *Logger) LogGridTransition(stockCode string, sessionID int64, from, to string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Println(fmt.Sprintf("[%s] [GRID] %s session=%d %s -> %s at %.4f",
		timestamp, stockCode, sessionID, from, to, price))
}

// LogFillCommit logs a committed broker fill, including the Stage-I flip.
func (l *Logger) LogFillCommit(stockCode, orderID string, volume int64, price float64, profitTriggered bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf(`
[%s] [TRADE] ==================== FILL COMMITTED ====================
✅ Order: %s | Symbol: %s
📦 Volume: %d | Price: %.4f
🏁 profit_triggered: %v
=============================================================`,
		timestamp, orderID, stockCode, volume, price, profitTriggered)
	l.logger.Println(entry)
}

// LogCircuitTrip logs a circuit breaker trip or reset.
func (l *Logger) LogCircuitTrip(name, fromState, toState string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Println(fmt.Sprintf("[%s] [ERROR] circuit %q: %s -> %s", timestamp, name, fromState, toState))
}

// LogRecovery logs a startup recovery decision for one grid session.
func (l *Logger) LogRecovery(stockCode string, sessionID int64, outcome string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Println(fmt.Sprintf("[%s] [INFO] recovery %s session=%d: %s", timestamp, stockCode, sessionID, outcome))
}

// LogErrorWithContext logs an error plus free-form diagnostic context.
func (l *Logger) LogErrorWithContext(context string, err error, additionalInfo map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	entry := fmt.Sprintf(`
[%s] [ERROR] ==================== ERROR DETAILS ====================
🚨 Context: %s
❌ Error: %v`, timestamp, context, err)

	for key, value := range additionalInfo {
		entry += fmt.Sprintf("\n  • %s: %v", key, value)
	}
	entry += "\n============================================================="
	l.logger.Println(entry)
}

// SetDebugMode enables or disables debug-level logging.
func (l *Logger) SetDebugMode(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugMode = enabled
}

func (l *Logger) IsDebugMode() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugMode
}

// LogDebugOnly logs only when debug mode is enabled.
func (l *Logger) LogDebugOnly(format string, args ...interface{}) {
	if l.debugMode {
		l.Debug(format, args...)
	}
}

// Close writes a session footer and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		footer := fmt.Sprintf(`
================================================================================
🛑 TRADING DAEMON SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, timestamp)
		l.logger.Print(footer)
		return l.logFile.Close()
	}
	return nil
}

// GetLogPath returns the current log file's path.
func (l *Logger) GetLogPath() string {
	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", l.tag, timestamp)
	return filepath.Join(l.logDir, filename)
}

package logger

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTempLogDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestNewLogger_CreatesFileAndHeader(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLogger("daemon")
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(l.GetLogPath())
	assert.NoError(t, err)
}

func TestLog_WritesLeveledLine(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLogger("daemon")
	require.NoError(t, err)
	l.Info("monitor tick for %s at %.2f", "600519.SH", 1800.5)
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(contents), "[INFO] monitor tick for 600519.SH at 1800.50")
}

func TestLogDebugOnly_SuppressedUnlessDebugMode(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLoggerWithDebug("daemon", false)
	require.NoError(t, err)
	l.LogDebugOnly("should not appear")
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.NotContains(t, string(contents), "should not appear")
}

func TestLogDebugOnly_EmittedWhenDebugModeEnabled(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLoggerWithDebug("daemon", true)
	require.NoError(t, err)
	l.LogDebugOnly("debug detail %d", 7)
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(contents), "debug detail 7")
}

func TestLogFillCommit_RecordsProfitTriggeredFlag(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLogger("daemon")
	require.NoError(t, err)
	l.LogFillCommit("600519.SH", "SIM_SELL_123", 100, 1820.0, true)
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(contents), "FILL COMMITTED")
	assert.Contains(t, string(contents), "profit_triggered: true")
}

func TestLogCircuitTrip_RecordsStateTransition(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLogger("daemon")
	require.NoError(t, err)
	l.LogCircuitTrip("market_data", "CLOSED", "OPEN")
	require.NoError(t, l.Close())

	contents, err := os.ReadFile(l.GetLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(contents), "CLOSED -> OPEN")
}

func TestSetDebugMode_TogglesIsDebugMode(t *testing.T) {
	withTempLogDir(t)

	l, err := NewLogger("daemon")
	require.NoError(t, err)
	defer l.Close()

	assert.False(t, l.IsDebugMode())
	l.SetDebugMode(true)
	assert.True(t, l.IsDebugMode())
}

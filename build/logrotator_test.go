package build

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

// TestRotatingLogWriter checks that sub-loggers share the writer and that
// levels can be changed per subsystem.
func TestRotatingLogWriter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := newRotatingLogWriter(&out)

	logFile := filepath.Join(t.TempDir(), "logs", "descwallet.log")
	require.NoError(t, w.InitLogRotator(logFile, 1, 2))

	wllt := w.GenSubLogger("WLLT")
	ckpt := w.GenSubLogger("CKPT")
	w.RegisterSubLogger("WLLT", wllt)
	w.RegisterSubLogger("CKPT", ckpt)
	require.Equal(t, []string{"CKPT", "WLLT"}, w.SupportedSubsystems())

	w.SetLogLevels("debug")
	require.Equal(t, btclog.LevelDebug, wllt.Level())

	w.SetLogLevel("CKPT", "error")
	require.Equal(t, btclog.LevelError, ckpt.Level())
	require.Equal(t, btclog.LevelDebug, wllt.Level())

	// Unknown subsystems and levels are tolerated.
	w.SetLogLevel("NOPE", "trace")
	w.SetLogLevel("WLLT", "bogus")
	require.Equal(t, btclog.LevelInfo, wllt.Level())

	wllt.Infof("hello %d", 42)
	require.Contains(t, out.String(), "WLLT: hello 42")

	require.NoError(t, w.Close())
	_, err := os.Stat(logFile)
	require.NoError(t, err)

	// Closing twice is harmless.
	require.NoError(t, w.Close())
}

// TestNewSubLogger ensures the default build routes through the generator.
func TestNewSubLogger(t *testing.T) {
	t.Parallel()

	var called string
	gen := func(tag string) btclog.Logger {
		called = tag
		return btclog.Disabled
	}

	logger := NewSubLogger("TEST", gen)
	require.NotNil(t, logger)

	switch LoggingType {
	case LogTypeDefault:
		require.Equal(t, "TEST", called)
	case LogTypeNone:
		require.Equal(t, btclog.Disabled, logger)
	}

	require.Equal(t, "default", LogTypeDefault.String())
	require.Equal(t, "unknown", LogType(9).String())
}

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warn"))
	assert.Equal(t, INFO, ParseLevel("что-то"), "неизвестный уровень должен давать INFO")
	assert.Equal(t, "ERROR", ERROR.String())
}

func TestLoggerWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "terrain.log")

	l, err := NewLoggerWithOptions("terrain", Options{
		ConsoleLevel: ERROR,
		FileLevel:    DEBUG,
		File:         FileConfig{Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	l.Info("регион %d загружен", 7)
	l.Debug("отладка")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "регион 7 загружен")
	assert.Contains(t, string(data), "отладка")
}

func TestLoggerLevelFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nav.log")

	l, err := NewLoggerWithOptions("nav", Options{
		FileLevel: WARN,
		File:      FileConfig{Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	l.Info("не должно попасть")
	l.Warn("предупреждение")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "не должно попасть")
	assert.Contains(t, string(data), "предупреждение")
}

func TestManagerReturnsSameLogger(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	a, err := lm.GetLogger("rebuild")
	require.NoError(t, err)
	b, err := lm.GetLogger("rebuild")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"rebuild"}, lm.ListComponents())
	assert.Error(t, lm.SetLogLevel("нет-такого", INFO, INFO))
	assert.NoError(t, lm.CloseAll())
}

func TestManagerConfigureWritesComponentFiles(t *testing.T) {
	dir := t.TempDir()
	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	lm.Configure(dir, Options{FileLevel: DEBUG, File: FileConfig{MaxSizeMB: 5}})

	l, err := lm.GetLogger("storage")
	require.NoError(t, err)
	assert.Equal(t, 5, l.rotator.MaxSize)

	l.Info("запись %s", "региона")
	require.NoError(t, lm.CloseAll())

	data, err := os.ReadFile(filepath.Join(dir, "storage.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "запись региона")
}

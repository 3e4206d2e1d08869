package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(dir, false))
	defer Close()

	Info("hello %s", "world")
	Close()

	path := filepath.Join(dir, "screenlog_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello world"))
}

func TestSetLoggerRoutesLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))

	Debug("d %d", 1)
	Info("i %d", 2)
	Warn("w %d", 3)
	Error("e %d", 4)
	With("conn", "abc").Infow("structured")

	entries := logs.AllUntimed()
	require.Len(t, entries, 5)
	assert.Equal(t, "d 1", entries[0].Message)
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
	assert.Equal(t, "abc", entries[4].ContextMap()["conn"])
}

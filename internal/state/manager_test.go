package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ScreenLogAI/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	return mock
}

func readStateFile(t *testing.T, path string) models.PersistentServiceState {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s models.PersistentServiceState
	require.NoError(t, json.Unmarshal(data, &s))
	return s
}

func writeStateFile(t *testing.T, path string, s models.PersistentServiceState) {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestStartWithoutStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	mock := newMockClock()

	m, err := NewManager(path, "abc123", WithClock(mock))
	require.NoError(t, err)

	started, err := m.StartService()
	require.NoError(t, err)
	assert.True(t, started)

	onDisk := readStateFile(t, path)
	assert.Equal(t, models.StatusRunning, onDisk.Status)
	require.NotNil(t, onDisk.LastStartTime)
	assert.True(t, mock.Now().Equal(*onDisk.LastStartTime))
	assert.Equal(t, "abc123", onDisk.ConfigFingerprint)
	assert.Equal(t, uint64(0), onDisk.TotalCaptures)

	got := m.GetState()
	assert.Equal(t, models.StatusRunning, got.Status)
	require.NotNil(t, got.LastStartTime)
	assert.True(t, onDisk.LastStartTime.Equal(*got.LastStartTime))
	assert.Equal(t, "abc123", got.ConfigFingerprint)
	assert.Equal(t, uint64(0), got.TotalCaptures)
	assert.True(t, m.ShouldCapture())
}

func TestStartStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	m, err := NewManager(path, "fp", WithClock(newMockClock()))
	require.NoError(t, err)

	ok, err := m.StopService()
	require.NoError(t, err)
	assert.False(t, ok, "stop on stopped service")

	ok, err = m.StartService()
	require.NoError(t, err)
	assert.True(t, ok)
	first := m.GetState()

	ok, err = m.StartService()
	require.NoError(t, err)
	assert.False(t, ok, "second start")
	assert.Equal(t, first, m.GetState())

	ok, err = m.StopService()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, m.ShouldCapture())
	assert.NotNil(t, m.GetState().LastStopTime)
}

func TestIncrementCaptureCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	mock := newMockClock()
	m, err := NewManager(path, "fp", WithClock(mock))
	require.NoError(t, err)

	var last uint64
	for i := 0; i < 5; i++ {
		mock.Add(time.Minute)
		require.NoError(t, m.IncrementCaptureCount())

		s := m.GetState()
		assert.Greater(t, s.TotalCaptures, last)
		last = s.TotalCaptures
		require.NotNil(t, s.LastCaptureTime)
		assert.True(t, mock.Now().Equal(*s.LastCaptureTime))
	}

	assert.Equal(t, uint64(5), readStateFile(t, path).TotalCaptures)
}

func TestFingerprintDriftOnLoad(t *testing.T) {
	t.Run("running state is stopped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "service_state.json")
		started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		writeStateFile(t, path, models.PersistentServiceState{
			Status:            models.StatusRunning,
			LastStartTime:     &started,
			TotalCaptures:     42,
			ConfigFingerprint: "old",
		})

		mock := newMockClock()
		m, err := NewManager(path, "new", WithClock(mock))
		require.NoError(t, err)

		s := m.GetState()
		assert.Equal(t, models.StatusStopped, s.Status)
		assert.Equal(t, uint64(42), s.TotalCaptures)
		assert.Equal(t, "new", s.ConfigFingerprint)
		require.NotNil(t, s.LastStopTime)
		assert.True(t, mock.Now().Equal(*s.LastStopTime))
		assert.Equal(t, "new", readStateFile(t, path).ConfigFingerprint)
	})

	t.Run("stopped state keeps stop time", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "service_state.json")
		writeStateFile(t, path, models.PersistentServiceState{
			Status:            models.StatusStopped,
			ConfigFingerprint: "old",
		})

		m, err := NewManager(path, "new", WithClock(newMockClock()))
		require.NoError(t, err)
		assert.Nil(t, m.GetState().LastStopTime)
		assert.Equal(t, "new", m.GetState().ConfigFingerprint)
	})

	t.Run("matching fingerprint resumes running", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "service_state.json")
		writeStateFile(t, path, models.PersistentServiceState{
			Status:            models.StatusRunning,
			TotalCaptures:     3,
			ConfigFingerprint: "same",
		})

		m, err := NewManager(path, "same", WithClock(newMockClock()))
		require.NoError(t, err)
		assert.True(t, m.ShouldCapture())
		assert.Equal(t, uint64(3), m.GetState().TotalCaptures)
	})
}

func TestCorruptStateFileFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	m, err := NewManager(path, "fp", WithClock(newMockClock()))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultServiceState("fp"), m.GetState())
	assert.Equal(t, models.StatusStopped, readStateFile(t, path).Status)
}

func TestReconcileFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service_state.json")
	m, err := NewManager(path, "a", WithClock(newMockClock()))
	require.NoError(t, err)
	_, err = m.StartService()
	require.NoError(t, err)
	require.NoError(t, m.IncrementCaptureCount())

	changed, err := m.ReconcileFingerprint("a")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, m.ShouldCapture())

	changed, err = m.ReconcileFingerprint("b")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, m.ShouldCapture())
	assert.Equal(t, uint64(1), m.GetState().TotalCaptures)
	assert.Equal(t, "b", readStateFile(t, path).ConfigFingerprint)
}

func TestPersistFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "service_state.json")
	m, err := NewManager(path, "fp", WithClock(newMockClock()))
	require.NoError(t, err)

	// 父路径是普通文件，MkdirAll 必然失败
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	m.path = filepath.Join(blocker, "service_state.json")

	ok, err := m.StartService()
	assert.Error(t, err)
	assert.False(t, ok)
	assert.False(t, m.ShouldCapture())
	assert.Nil(t, m.GetState().LastStartTime)

	assert.Error(t, m.IncrementCaptureCount())
	assert.Equal(t, uint64(0), m.GetState().TotalCaptures)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "service_state.json"), "fp", WithClock(newMockClock()))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.IncrementCaptureCount())
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "service_state.json", entries[0].Name())
}

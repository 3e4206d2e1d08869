package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/benbjohnson/clock"
)

// Manager 服务状态管理器
//
// 持有唯一的 PersistentServiceState，每次变更都整体写入状态文件。
// 写入失败时回滚内存中的变更，保证内存与磁盘一致。
type Manager struct {
	mu    sync.RWMutex
	path  string
	state models.PersistentServiceState
	clock clock.Clock
}

// Option 管理器选项
type Option func(*Manager)

// WithClock 注入时间源（测试使用 clock.NewMock）
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// NewManager 加载状态文件并按当前配置指纹校正
func NewManager(path, fingerprint string, opts ...Option) (*Manager, error) {
	m := &Manager{
		path:  path,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}

	loaded, err := load(path)
	switch {
	case err != nil:
		logger.Warn("⚠️ 状态文件解析失败，使用默认状态: %v", err)
		m.state = models.DefaultServiceState(fingerprint)
	case loaded == nil:
		m.state = models.DefaultServiceState(fingerprint)
	default:
		m.state = *loaded
		m.applyFingerprint(fingerprint)
	}

	if err := m.persist(); err != nil {
		return nil, err
	}

	logger.Info("📋 服务状态已加载: %s (累计截屏 %d 次)", m.state.Status, m.state.TotalCaptures)
	return m, nil
}

// load 读取状态文件，文件不存在时返回 nil
func load(path string) (*models.PersistentServiceState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var s models.PersistentServiceState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if s.Status != models.StatusRunning && s.Status != models.StatusStopped {
		return nil, fmt.Errorf("unknown service status %q", s.Status)
	}
	return &s, nil
}

// applyFingerprint 指纹不一致时强制停止，保留累计截屏数（调用方持有写锁）
func (m *Manager) applyFingerprint(fingerprint string) bool {
	if m.state.ConfigFingerprint == fingerprint {
		return false
	}

	logger.Info("🔄 配置已变化，重置服务状态 (%s -> %s)", short(m.state.ConfigFingerprint), short(fingerprint))
	if m.state.Status == models.StatusRunning {
		now := m.clock.Now()
		m.state.Status = models.StatusStopped
		m.state.LastStopTime = &now
	}
	m.state.ConfigFingerprint = fingerprint
	return true
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// persist 原子写入：先写同目录临时文件再 rename（调用方持有写锁或处于构造阶段）
func (m *Manager) persist() error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".service_state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close state: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// mutate 在写锁下修改状态并持久化，失败时回滚
func (m *Manager) mutate(fn func(s *models.PersistentServiceState) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state.Clone()
	if !fn(&m.state) {
		return false, nil
	}

	if err := m.persist(); err != nil {
		m.state = prev
		return false, err
	}
	return true, nil
}

// StartService 标记为运行中，已在运行时返回 false
func (m *Manager) StartService() (bool, error) {
	return m.mutate(func(s *models.PersistentServiceState) bool {
		if s.Status == models.StatusRunning {
			return false
		}
		now := m.clock.Now()
		s.Status = models.StatusRunning
		s.LastStartTime = &now
		return true
	})
}

// StopService 标记为已停止，已停止时返回 false
func (m *Manager) StopService() (bool, error) {
	return m.mutate(func(s *models.PersistentServiceState) bool {
		if s.Status == models.StatusStopped {
			return false
		}
		now := m.clock.Now()
		s.Status = models.StatusStopped
		s.LastStopTime = &now
		return true
	})
}

// IncrementCaptureCount 记录一次成功的截屏
func (m *Manager) IncrementCaptureCount() error {
	_, err := m.mutate(func(s *models.PersistentServiceState) bool {
		now := m.clock.Now()
		s.TotalCaptures++
		s.LastCaptureTime = &now
		return true
	})
	return err
}

// ReconcileFingerprint 运行期间配置变化时应用与加载时相同的校正规则
func (m *Manager) ReconcileFingerprint(fingerprint string) (bool, error) {
	return m.mutate(func(*models.PersistentServiceState) bool {
		return m.applyFingerprint(fingerprint)
	})
}

// GetState 返回状态快照
func (m *Manager) GetState() models.PersistentServiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// ShouldCapture 服务是否处于运行状态
func (m *Manager) ShouldCapture() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Status == models.StatusRunning
}

// Path 状态文件路径
func (m *Manager) Path() string {
	return m.path
}

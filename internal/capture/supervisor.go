package capture

import (
	"context"
	"fmt"
	"sync"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
)

// Deps 截屏循环的外部协作者
type Deps struct {
	Screener    Screener
	NewAnalyzer func(cfg models.AIConfig) (Analyzer, error)
	Sink        LogSink

	// 以下可选
	Focus        FocusSource
	ScreenActive func() bool
	SystemInfo   *models.SystemInfo
	Processes    func(ctx context.Context) []models.ProcessInfo
	Sleep        SleepFunc
}

// loopHandle 正在运行的循环
type loopHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor 截屏任务管理器，同一时间最多一个截屏循环
type Supervisor struct {
	state StateStore
	deps  Deps

	mu     sync.Mutex
	handle *loopHandle
}

// NewSupervisor 创建截屏任务管理器
func NewSupervisor(state StateStore, deps Deps) *Supervisor {
	return &Supervisor{state: state, deps: deps}
}

// Start 使用配置快照启动截屏循环；已有循环会被直接取消（不等待）
func (s *Supervisor) Start(cfg *models.AppConfig) error {
	if s.deps.NewAnalyzer == nil {
		return fmt.Errorf("no analyzer configured")
	}
	analyzer, err := s.deps.NewAnalyzer(cfg.AI)
	if err != nil {
		return fmt.Errorf("failed to create analyzer: %w", err)
	}
	s.StartWith(SettingsFromConfig(cfg), analyzer)
	return nil
}

// StartWith 使用给定的循环配置和分析器启动
func (s *Supervisor) StartWith(settings Settings, analyzer Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		logger.Info("🔁 取消旧的截屏循环")
		s.handle.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &loopHandle{cancel: cancel, done: make(chan struct{})}
	s.handle = h

	l := &loop{settings: settings, state: s.state, analyzer: analyzer, deps: s.deps}
	go func() {
		defer close(h.done)
		l.run(ctx)
	}()
}

// Stop 取消当前循环，不等待进行中的截屏或分析
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil {
		return
	}
	s.handle.cancel()
	s.handle = nil
	logger.Info("⏹️ 截屏循环已取消")
}

// Running 是否有仍在运行的循环
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait 等待当前循环退出
func (s *Supervisor) Wait() {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		<-h.done
	}
}

// Done 当前循环的结束通道，没有循环时返回 nil
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	return s.handle.done
}

// Package service 执行 Start/Stop/Status 命令，连接服务状态与截屏任务。
//
// 控制通道、HTTP 接口、托盘菜单和定时任务都通过 Dispatcher 发出命令。
package service

import (
	"context"
	"fmt"
	"sync"

	"ScreenLogAI/internal/config"
	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
)

// StateManager 服务状态（由 state.Manager 实现）
type StateManager interface {
	StartService() (bool, error)
	StopService() (bool, error)
	GetState() models.PersistentServiceState
	ShouldCapture() bool
	ReconcileFingerprint(fingerprint string) (bool, error)
}

// Runner 截屏任务（由 capture.Supervisor 实现）
type Runner interface {
	Start(cfg *models.AppConfig) error
	Stop()
	Running() bool
}

// ConfigSource 当前配置（由 config.Manager 实现）
type ConfigSource interface {
	Get() *models.AppConfig
}

// Dispatcher 命令分发器，命令之间串行执行
type Dispatcher struct {
	state  StateManager
	runner Runner
	config ConfigSource

	mu sync.Mutex
}

// NewDispatcher 创建命令分发器
func NewDispatcher(state StateManager, runner Runner, cfg ConfigSource) *Dispatcher {
	return &Dispatcher{state: state, runner: runner, config: cfg}
}

// Handle 执行一条命令，实现 control.Handler
func (d *Dispatcher) Handle(_ context.Context, cmd models.ServiceCommand) models.ServiceResponse {
	switch cmd.Command {
	case models.CommandStart:
		return d.Start()
	case models.CommandStop:
		return d.Stop()
	case models.CommandStatus:
		return d.Status()
	default:
		return d.respond(false, fmt.Sprintf("unknown command %q", cmd.Command))
	}
}

// Start 启动服务
func (d *Dispatcher) Start() models.ServiceResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	started, err := d.state.StartService()
	if err != nil {
		logger.Error("启动服务失败: %v", err)
		return d.respond(false, fmt.Sprintf("启动失败: %v", err))
	}

	if !started {
		// 状态为运行中但任务已退出时重新拉起
		if !d.runner.Running() {
			if err := d.runner.Start(d.config.Get()); err != nil {
				logger.Error("重新启动截屏任务失败: %v", err)
				return d.respond(false, fmt.Sprintf("启动截屏失败: %v", err))
			}
			logger.Info("🔁 截屏任务已重新启动")
		}
		return d.respond(true, "服务已在运行")
	}

	if err := d.runner.Start(d.config.Get()); err != nil {
		logger.Error("启动截屏任务失败: %v", err)
		if _, serr := d.state.StopService(); serr != nil {
			logger.Error("回滚服务状态失败: %v", serr)
		}
		return d.respond(false, fmt.Sprintf("启动截屏失败: %v", err))
	}

	logger.Info("▶️ 服务已启动")
	return d.respond(true, "服务已启动")
}

// Stop 停止服务
func (d *Dispatcher) Stop() models.ServiceResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	stopped, err := d.state.StopService()
	if err != nil {
		logger.Error("停止服务失败: %v", err)
		return d.respond(false, fmt.Sprintf("停止失败: %v", err))
	}

	d.runner.Stop()
	if !stopped {
		return d.respond(true, "服务已处于停止状态")
	}

	logger.Info("⏹️ 服务已停止")
	return d.respond(true, "服务已停止")
}

// Status 查询状态，总是成功
func (d *Dispatcher) Status() models.ServiceResponse {
	return d.respond(true, "状态查询成功")
}

// Running 截屏任务是否在运行
func (d *Dispatcher) Running() bool {
	return d.runner.Running()
}

// State 当前服务状态快照
func (d *Dispatcher) State() models.PersistentServiceState {
	return d.state.GetState()
}

// Resume 守护进程启动时恢复上次的运行状态
func (d *Dispatcher) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.state.ShouldCapture() {
		logger.Info("服务上次处于停止状态，等待启动命令")
		return nil
	}

	if err := d.runner.Start(d.config.Get()); err != nil {
		if _, serr := d.state.StopService(); serr != nil {
			logger.Error("回滚服务状态失败: %v", serr)
		}
		return fmt.Errorf("failed to resume capture: %w", err)
	}
	logger.Info("🔁 已恢复上次的运行状态，截屏任务已启动")
	return nil
}

// OnConfigChange 配置热加载回调：指纹变化时按加载规则停止服务
func (d *Dispatcher) OnConfigChange(_, current *models.AppConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed, err := d.state.ReconcileFingerprint(config.Fingerprint(current))
	if err != nil {
		logger.Error("更新配置指纹失败: %v", err)
		return
	}
	if !changed {
		return
	}

	if d.runner.Running() && !d.state.ShouldCapture() {
		d.runner.Stop()
		logger.Warn("⚠️ 截屏相关配置已变化，服务已停止，请重新启动")
	}
}

// Shutdown 进程退出时取消截屏任务，不修改持久化状态
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runner.Stop()
}

func (d *Dispatcher) respond(success bool, message string) models.ServiceResponse {
	state := d.state.GetState()
	return models.ServiceResponse{Success: success, Message: message, State: &state}
}

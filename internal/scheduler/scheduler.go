package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/utils"

	"github.com/robfig/cron/v3"
)

// cleanupSpec 每天凌晨 3 点清理过期数据
const cleanupSpec = "0 3 * * *"

// workDaysToCron 将工作日数组转换为cron表达式的星期部分
// workDays: [0,1,2,3,4,5,6] 其中0=周日，1=周一，...，6=周六
// 返回: "0,1,2,3,4,5,6" 或 "*" (如果全选)
func workDaysToCron(workDays []int) (string, error) {
	if len(workDays) == 0 {
		return "*", nil // 空数组视为全选
	}

	seen := make(map[int]bool, len(workDays))
	days := make([]int, 0, len(workDays))
	for _, day := range workDays {
		if day < 0 || day > 6 {
			return "", fmt.Errorf("invalid work day %d", day)
		}
		if !seen[day] {
			seen[day] = true
			days = append(days, day)
		}
	}
	if len(days) == 7 {
		return "*", nil // 全部7天
	}

	sort.Ints(days)
	dayStrs := make([]string, len(days))
	for i, day := range days {
		dayStrs[i] = fmt.Sprintf("%d", day)
	}
	return strings.Join(dayStrs, ","), nil
}

// dailySpec 生成 "分 时 * * 星期" 形式的表达式，clock 格式 15:04
func dailySpec(clock string, workDays []int) (string, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return "", fmt.Errorf("无效的时间格式 %q: %w", clock, err)
	}
	weekDays, err := workDaysToCron(workDays)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * %s", t.Minute(), t.Hour(), weekDays), nil
}

// Commander 启停服务（由 service.Dispatcher 实现）
type Commander interface {
	Start() models.ServiceResponse
	Stop() models.ServiceResponse
	Running() bool
}

// Cleaner 过期数据清理（由 storage.Manager 实现）
type Cleaner interface {
	DeleteOlderThan(retentionDays int) (int64, error)
}

// ConfigSource 调度相关配置（由 config.Manager 实现）
type ConfigSource interface {
	GetSchedule() models.WorkSchedule
	GetStorage() models.StorageConfig
}

// Scheduler 任务调度器
type Scheduler struct {
	cron    *cron.Cron
	config  ConfigSource
	cleaner Cleaner
	service Commander

	mu        sync.Mutex
	running   bool
	cleanupID cron.EntryID
	workIDs   []cron.EntryID
}

// Option 调度器选项
type Option func(*Scheduler)

// WithLocation 指定 cron 使用的时区
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.cron = cron.New(cron.WithLocation(loc)) }
}

// NewScheduler 创建任务调度器
func NewScheduler(cfg ConfigSource, cleaner Cleaner, service Commander, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(),
		config:  cfg,
		cleaner: cleaner,
		service: service,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(cleanupSpec, s.runCleanup)
	if err != nil {
		return fmt.Errorf("failed to add cleanup job: %w", err)
	}
	s.cleanupID = id

	if err := s.addWorkHourJobs(); err != nil {
		logger.Warn("⚠️ 添加工作时间任务失败: %v", err)
	}

	s.cron.Start()
	s.running = true

	// 在工作时间内启动时补一次自动启动
	if s.InWorkHours(time.Now()) {
		go s.autoStartCapture()
	}

	logger.Info("⏰ 任务调度器已启动 (保留 %d 天数据)", s.config.GetStorage().RetentionDays)
	return nil
}

// Stop 停止调度器，等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	for _, id := range append(s.workIDs, s.cleanupID) {
		s.cron.Remove(id)
	}
	s.workIDs = nil
	s.running = false
	logger.Info("⏰ 任务调度器已停止")
}

// IsRunning 检查是否运行中
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reload 工作时间配置变化后重新注册自动启停任务
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.workIDs {
		s.cron.Remove(id)
	}
	s.workIDs = nil
	return s.addWorkHourJobs()
}

// Entries 已注册的任务数
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// InWorkHours now 是否处于启用的工作时间内
func (s *Scheduler) InWorkHours(now time.Time) bool {
	schedule := s.config.GetSchedule()
	if !schedule.Enabled || !utils.IsDayInList(now.Weekday(), schedule.WorkDays) {
		return false
	}
	in, err := utils.TimeInRange(now, schedule.StartTime, schedule.EndTime)
	if err != nil {
		logger.Warn("⚠️ 工作时间配置无效: %v", err)
		return false
	}
	return in
}

// addWorkHourJobs 在工作日的开始/结束时间自动启停截屏（调用方持有锁）
func (s *Scheduler) addWorkHourJobs() error {
	schedule := s.config.GetSchedule()
	if !schedule.Enabled {
		logger.Debug("工作时间自动启停未启用")
		return nil
	}

	startSpec, err := dailySpec(schedule.StartTime, schedule.WorkDays)
	if err != nil {
		return fmt.Errorf("开始时间: %w", err)
	}
	stopSpec, err := dailySpec(schedule.EndTime, schedule.WorkDays)
	if err != nil {
		return fmt.Errorf("结束时间: %w", err)
	}

	startID, err := s.cron.AddFunc(startSpec, s.autoStartCapture)
	if err != nil {
		return fmt.Errorf("failed to add auto-start capture job: %w", err)
	}
	stopID, err := s.cron.AddFunc(stopSpec, s.autoStopCapture)
	if err != nil {
		s.cron.Remove(startID)
		return fmt.Errorf("failed to add auto-stop capture job: %w", err)
	}
	s.workIDs = []cron.EntryID{startID, stopID}

	logger.Info("⏰ 工作时间自动启停已添加 (%s 启动, %s 停止)", schedule.StartTime, schedule.EndTime)
	return nil
}

// runCleanup 执行清理任务
func (s *Scheduler) runCleanup() {
	logger.Info("🧹 开始清理旧数据...")

	retention := s.config.GetStorage().RetentionDays
	deleted, err := s.cleaner.DeleteOlderThan(retention)
	if err != nil {
		logger.Error("❌ 清理失败: %v", err)
		return
	}

	logger.Info("✅ 清理完成，删除了 %d 条 %d 天前的记录", deleted, retention)
}

// autoStartCapture 自动启动截图（在工作开始时间）
func (s *Scheduler) autoStartCapture() {
	if s.service.Running() {
		logger.Info("ℹ️ 截屏服务已在运行中，无需启动")
		return
	}

	logger.Info("🚀 到达工作开始时间，自动启动截屏服务...")
	resp := s.service.Start()
	if !resp.Success {
		logger.Error("❌ 自动启动截屏服务失败: %s", resp.Message)
		return
	}
	logger.Info("✅ %s", resp.Message)
}

// autoStopCapture 自动停止截图（在工作结束时间）
func (s *Scheduler) autoStopCapture() {
	logger.Info("🛑 到达工作结束时间，自动停止截屏服务...")
	resp := s.service.Stop()
	if !resp.Success {
		logger.Error("❌ 自动停止截屏服务失败: %s", resp.Message)
		return
	}
	logger.Info("✅ %s", resp.Message)
}

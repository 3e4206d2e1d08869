package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/utils"
)

// Analyzer 截图分析（由 ai.Analyzer 实现）
type Analyzer interface {
	Analyze(ctx context.Context, imagePath, prompt, contextText, historyText string) (*models.AnalysisResult, error)
}

// LogSink 活动日志存储（由 storage.Manager 实现）
type LogSink interface {
	AppendActivity(log *models.ActivityLog) error
	RecentActivityContext(count int) (string, error)
}

// StateStore 截屏循环使用的服务状态（由 state.Manager 实现）
type StateStore interface {
	ShouldCapture() bool
	IncrementCaptureCount() error
}

// Settings 一次截屏循环使用的配置快照
type Settings struct {
	Interval       time.Duration
	Warmup         time.Duration
	Settle         time.Duration
	FailureBackoff time.Duration

	ScreenshotsDir   string
	TargetWidth      int
	Grayscale        bool
	SkipWhenInactive bool
	HistoryCount     int

	Prompt string
	Model  string
	Retry  Policy
}

// SettingsFromConfig 从应用配置构建循环配置
func SettingsFromConfig(cfg *models.AppConfig) Settings {
	interval := time.Duration(cfg.Capture.Interval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return Settings{
		Interval:         interval,
		Warmup:           time.Duration(cfg.Capture.WarmupSeconds) * time.Second,
		Settle:           time.Duration(cfg.Capture.SettleMillis) * time.Millisecond,
		FailureBackoff:   time.Duration(cfg.Capture.FailureBackoff) * time.Second,
		ScreenshotsDir:   cfg.Storage.ScreenshotsDir,
		TargetWidth:      cfg.Capture.TargetWidth,
		Grayscale:        cfg.Capture.Grayscale,
		SkipWhenInactive: cfg.Capture.SkipWhenInactive,
		HistoryCount:     cfg.Capture.HistoryCount,
		Prompt:           cfg.AI.Prompt,
		Model:            cfg.AI.Model,
		Retry:            PolicyFromConfig(cfg.AI),
	}
}

// errSkipped 屏幕未激活，本轮跳过
var errSkipped = errors.New("screen inactive, cycle skipped")

// loop 单个截屏循环
type loop struct {
	settings Settings
	state    StateStore
	analyzer Analyzer
	deps     Deps
}

// run 预热 → 检查 → 截屏 → [等待间隔 → 检查 → 截屏]*
func (l *loop) run(ctx context.Context) {
	logger.Info("🚀 截屏循环已启动，%s 后开始第一次截屏，间隔: %s", l.settings.Warmup, l.settings.Interval)

	if err := sleepContext(ctx, l.settings.Warmup); err != nil {
		logger.Info("截屏循环在预热期间被取消")
		return
	}

	ticker := time.NewTicker(l.settings.Interval)
	defer ticker.Stop()

	for {
		if !l.state.ShouldCapture() {
			logger.Info("⏹️ 服务已停止，截屏循环退出")
			return
		}

		err := l.cycle(ctx)
		switch {
		case err == nil, errors.Is(err, errSkipped):
		case ctx.Err() != nil:
			logger.Info("截屏循环已取消")
			return
		default:
			logger.Error("❌ 截屏失败: %v", err)
			// 失败后额外等待
			if sleepContext(ctx, l.settings.FailureBackoff) != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("截屏循环已取消")
			return
		case <-ticker.C:
		}
	}
}

// cycle 一次完整的截屏、分析、记录
func (l *loop) cycle(ctx context.Context) error {
	if l.settings.SkipWhenInactive && l.deps.ScreenActive != nil && !l.deps.ScreenActive() {
		logger.Debug("🔒 屏幕未激活（锁屏/屏保），跳过本次截屏")
		return errSkipped
	}

	var (
		focus    *models.WindowFocusSample
		hint     *models.WindowBounds
		stats    *models.WindowSwitchStats
		switches []models.WindowSwitchEvent
	)
	if l.deps.Focus != nil {
		focus = l.deps.Focus.CurrentWindow()
		if focus != nil {
			hint = focus.Bounds
		}
		s := l.deps.Focus.Stats()
		stats = &s
		switches = l.deps.Focus.SwitchHistory(recentSwitchCount)
	}

	now := time.Now()
	path := filepath.Join(l.settings.ScreenshotsDir, utils.DayKey(now),
		fmt.Sprintf("screenshot_%s.png", now.Format("20060102_150405")))

	if err := l.deps.Screener.Capture(ctx, path, l.settings.TargetWidth, l.settings.Grayscale, hint); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	logger.Info("📸 截图已保存: %s", path)

	// 等待截图文件落盘
	if err := sleepContext(ctx, l.settings.Settle); err != nil {
		return err
	}

	sysCtx := BuildSystemContext(focus, l.deps.SystemInfo, now)
	if l.deps.Processes != nil {
		sysCtx.TopProcesses = l.deps.Processes(ctx)
	}
	contextText := FormatContext(sysCtx, stats, switches)

	historyText, err := l.deps.Sink.RecentActivityContext(l.settings.HistoryCount)
	if err != nil {
		logger.Warn("⚠️ 读取历史活动失败: %v", err)
		historyText = ""
	}

	var result *models.AnalysisResult
	err = l.settings.Retry.Do(ctx, l.deps.Sleep, func(ctx context.Context, attempt int) error {
		r, err := l.analyzer.Analyze(ctx, path, l.settings.Prompt, contextText, historyText)
		if err != nil {
			kind := "其他错误"
			if IsNetworkError(err) {
				kind = "网络错误"
			}
			logger.Warn("⚠️ AI 分析失败 (第 %d/%d 次, %s): %v", attempt, l.settings.Retry.MaxAttempts, kind, err)
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	entry := &models.ActivityLog{
		Timestamp:      now,
		Description:    result.Description,
		Context:        sysCtx,
		ScreenshotPath: path,
		Model:          l.settings.Model,
		TokenUsage:     result.TokenUsage,
	}
	if err := l.deps.Sink.AppendActivity(entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}

	if err := l.state.IncrementCaptureCount(); err != nil {
		return fmt.Errorf("increment capture count: %w", err)
	}

	logger.Info("✅ 分析完成 (%s): %s", result.ProcessingTime.Round(time.Millisecond), utils.TruncateString(result.Description, 80))
	return nil
}

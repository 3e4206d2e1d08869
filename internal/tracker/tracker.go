// Package tracker 跟踪前台窗口焦点变化，记录切换历史、会话和应用使用时长。
package tracker

import (
	"sort"
	"sync"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"
)

const (
	// DefaultCacheTTL 前台窗口查询结果的缓存时长
	DefaultCacheTTL = 500 * time.Millisecond
	// MaxSwitchHistory 切换历史上限
	MaxSwitchHistory = 100
	// MaxSessions 会话历史上限
	MaxSessions = 50
	// topAppsLimit 统计中返回的常用应用数量
	topAppsLimit = 5
)

// WindowSource 查询当前前台窗口，没有可用信息时返回 nil
type WindowSource interface {
	ForegroundWindow() (*models.WindowFocusSample, error)
}

// WindowSourceFunc 函数形式的 WindowSource
type WindowSourceFunc func() (*models.WindowFocusSample, error)

// ForegroundWindow 调用 f
func (f WindowSourceFunc) ForegroundWindow() (*models.WindowFocusSample, error) {
	return f()
}

// Tracker 窗口活动跟踪器
//
// 刷新路径（缓存检查、系统查询、切换处理）由 refreshMu 串行化，
// 并发调用者不会重复记录同一次切换。集合本身由 mu 保护，供只读查询使用。
type Tracker struct {
	source   WindowSource
	clock    clock.Clock
	cacheTTL time.Duration

	refreshMu sync.Mutex
	cached    *models.WindowFocusSample
	cachedAt  time.Time
	hasCache  bool

	mu         sync.RWMutex
	current    *models.WindowFocusSample
	history    []models.WindowSwitchEvent
	sessions   []models.WindowSession
	usage      map[string]int64
	usageOrder []string
}

// Option 跟踪器选项
type Option func(*Tracker)

// WithClock 注入时间源
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithCacheTTL 设置缓存时长
func WithCacheTTL(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.cacheTTL = d
		}
	}
}

// New 创建跟踪器
func New(source WindowSource, opts ...Option) *Tracker {
	t := &Tracker{
		source:   source,
		clock:    clock.New(),
		cacheTTL: DefaultCacheTTL,
		history:  make([]models.WindowSwitchEvent, 0, MaxSwitchHistory),
		sessions: make([]models.WindowSession, 0, MaxSessions),
		usage:    make(map[string]int64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CurrentWindow 返回当前前台窗口（带缓存），无可用信息时返回 nil
func (t *Tracker) CurrentWindow() *models.WindowFocusSample {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	now := t.clock.Now()
	if t.hasCache && now.Sub(t.cachedAt) < t.cacheTTL {
		return cloneSample(t.cached)
	}

	sample, err := t.source.ForegroundWindow()
	if err != nil {
		logger.Debug("获取前台窗口失败: %v", err)
		sample = nil
	}
	if sample != nil {
		sample = cloneSample(sample)
		sample.Timestamp = now
	}

	t.cached = sample
	t.cachedAt = now
	t.hasCache = true

	// 查询不到窗口信息不算切换
	if sample != nil {
		t.observe(sample)
	}
	return cloneSample(sample)
}

// observe 焦点身份变化时记录切换事件并轮换会话（调用方持有 refreshMu）
func (t *Tracker) observe(sample *models.WindowFocusSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && t.current.SameFocus(sample) {
		return
	}

	old := t.current
	t.current = sample
	now := sample.Timestamp

	event := models.WindowSwitchEvent{
		ToApp:     sample.AppName,
		ToTitle:   sample.WindowTitle,
		Timestamp: now,
	}
	if old != nil {
		event.FromApp = old.AppName
		event.FromTitle = old.WindowTitle
		event.DurationMs = millisBetween(old.Timestamp, now)
	}

	t.history = append(t.history, event)
	if len(t.history) > MaxSwitchHistory {
		t.history = t.history[len(t.history)-MaxSwitchHistory:]
	}

	if old != nil {
		t.endSession(old, now)
	}
	t.startSession(sample, now)

	logger.Debug("🪟 窗口切换: %s -> %s (%dms)", event.FromApp, event.ToApp, event.DurationMs)
}

func (t *Tracker) startSession(sample *models.WindowFocusSample, start time.Time) {
	t.sessions = append(t.sessions, models.WindowSession{
		AppName:     sample.AppName,
		WindowTitle: sample.WindowTitle,
		StartTime:   start,
	})
	if len(t.sessions) > MaxSessions {
		t.sessions = t.sessions[len(t.sessions)-MaxSessions:]
	}
}

// endSession 只关闭与旧焦点匹配的最后一个会话
func (t *Tracker) endSession(old *models.WindowFocusSample, end time.Time) {
	if len(t.sessions) == 0 {
		return
	}
	last := &t.sessions[len(t.sessions)-1]
	if last.EndTime != nil || last.AppName != old.AppName || last.WindowTitle != old.WindowTitle {
		return
	}

	last.EndTime = &end
	last.DurationMs = millisBetween(last.StartTime, end)

	if last.AppName == "" {
		return
	}
	if _, seen := t.usage[last.AppName]; !seen {
		t.usageOrder = append(t.usageOrder, last.AppName)
	}
	t.usage[last.AppName] += last.DurationMs
}

// Stats 按需计算统计信息
func (t *Tracker) Stats() models.WindowSwitchStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := models.WindowSwitchStats{
		TotalSwitches: len(t.history),
		MostUsedApps:  t.rankedUsage(topAppsLimit),
	}

	if n := len(t.sessions); n > 0 && t.sessions[n-1].EndTime == nil {
		stats.CurrentSessionDurationMs = millisBetween(t.sessions[n-1].StartTime, t.clock.Now())
	}
	if n := len(t.history); n > 0 {
		ts := t.history[n-1].Timestamp
		stats.LastSwitchTime = &ts
	}
	return stats
}

// rankedUsage 按累计时长降序排列，时长相同按首次出现顺序（调用方持有读锁）
func (t *Tracker) rankedUsage(limit int) []models.AppUsage {
	ranked := lo.Map(t.usageOrder, func(name string, _ int) models.AppUsage {
		return models.AppUsage{AppName: name, DurationMs: t.usage[name]}
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].DurationMs > ranked[j].DurationMs
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// SwitchHistory 返回最近 limit 条切换事件（按时间从旧到新），limit <= 0 返回全部
func (t *Tracker) SwitchHistory(limit int) []models.WindowSwitchEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	events := t.history
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]models.WindowSwitchEvent(nil), events...)
}

// Sessions 返回会话历史副本
func (t *Tracker) Sessions() []models.WindowSession {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return lo.Map(t.sessions, func(s models.WindowSession, _ int) models.WindowSession {
		if s.EndTime != nil {
			end := *s.EndTime
			s.EndTime = &end
		}
		return s
	})
}

// AppUsage 返回所有应用的累计使用时长（降序）
func (t *Tracker) AppUsage() []models.AppUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rankedUsage(0)
}

func millisBetween(from, to time.Time) int64 {
	d := to.Sub(from).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

func cloneSample(s *models.WindowFocusSample) *models.WindowFocusSample {
	if s == nil {
		return nil
	}
	c := *s
	if s.Bounds != nil {
		b := *s.Bounds
		c.Bounds = &b
	}
	if s.ProcessID != nil {
		pid := *s.ProcessID
		c.ProcessID = &pid
	}
	return &c
}

package models

import "time"

// WindowBounds 窗口位置和大小
type WindowBounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowFocusSample 一次前台窗口查询结果，只缓存不落盘
type WindowFocusSample struct {
	AppName     string        `json:"app_name,omitempty"`
	WindowTitle string        `json:"window_title,omitempty"`
	Bounds      *WindowBounds `json:"bounds,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	ProcessID   *uint32       `json:"process_id,omitempty"`
}

// SameFocus 判断焦点身份（应用名 + 窗口标题）是否相同
func (s *WindowFocusSample) SameFocus(other *WindowFocusSample) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.AppName == other.AppName && s.WindowTitle == other.WindowTitle
}

// WindowSwitchEvent 窗口切换事件，DurationMs 为上一个窗口的持续时间
type WindowSwitchEvent struct {
	FromApp    string    `json:"from_app,omitempty"`
	ToApp      string    `json:"to_app,omitempty"`
	FromTitle  string    `json:"from_title,omitempty"`
	ToTitle    string    `json:"to_title,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}

// WindowSession 焦点保持不变的一段时间，EndTime 为空表示仍在进行
type WindowSession struct {
	AppName     string     `json:"app_name,omitempty"`
	WindowTitle string     `json:"window_title,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
}

// AppUsage 单个应用的累计使用时长
type AppUsage struct {
	AppName    string `json:"app_name"`
	DurationMs int64  `json:"duration_ms"`
}

// WindowSwitchStats 按需计算的窗口统计
type WindowSwitchStats struct {
	TotalSwitches            int        `json:"total_switches"`
	MostUsedApps             []AppUsage `json:"most_used_apps"`
	CurrentSessionDurationMs int64      `json:"current_session_duration_ms"`
	LastSwitchTime           *time.Time `json:"last_switch_time,omitempty"`
}

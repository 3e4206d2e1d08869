package models

import "time"

// ActivityLog 单次截屏分析产生的活动记录
type ActivityLog struct {
	ID             int64          `json:"id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Description    string         `json:"description"`
	Context        *SystemContext `json:"context,omitempty"`
	ScreenshotPath string         `json:"screenshot_path,omitempty"`
	Model          string         `json:"model,omitempty"`
	TokenUsage     *TokenUsage    `json:"token_usage,omitempty"`
}

// TokenUsage token 消耗
type TokenUsage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// SystemContext 记录截图时的系统上下文
type SystemContext struct {
	ActiveApp    string        `json:"active_app,omitempty"`
	WindowTitle  string        `json:"window_title,omitempty"`
	SystemInfo   *SystemInfo   `json:"system_info,omitempty"`
	TopProcesses []ProcessInfo `json:"processes_top,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// SystemInfo 主机信息
type SystemInfo struct {
	Hostname  string `json:"hostname,omitempty"`
	Username  string `json:"username,omitempty"`
	Platform  string `json:"platform,omitempty"`
	OSVersion string `json:"os_version,omitempty"` // 例如 "ubuntu 22.04"
}

// ProcessInfo 截图时 CPU 占用较高的进程
type ProcessInfo struct {
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpu_percent"`
}

// PromptTestResult 用候选提示词重新分析历史截图的结果，与正式日志分开保存
type PromptTestResult struct {
	ID                  int64       `json:"id,omitempty"`
	RunID               string      `json:"run_id"`
	SourceID            int64       `json:"source_id"`
	Timestamp           time.Time   `json:"timestamp"` // 原记录的截屏时间
	Prompt              string      `json:"prompt"`
	Description         string      `json:"description"`
	OriginalDescription string      `json:"original_description"`
	ScreenshotPath      string      `json:"screenshot_path"`
	Model               string      `json:"model,omitempty"`
	TokenUsage          *TokenUsage `json:"token_usage,omitempty"`
}

// AnalysisResult AI 分析结果
type AnalysisResult struct {
	Description    string        `json:"description"`
	TokenUsage     *TokenUsage   `json:"token_usage,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// ScreenInfo 屏幕信息
type ScreenInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	IsPrimary bool   `json:"is_primary"`
}

// StorageStats 存储统计
type StorageStats struct {
	TotalEntries int64  `json:"total_entries"`
	OldestDate   string `json:"oldest_date"`
	NewestDate   string `json:"newest_date"`
}

package models

// AppConfig 应用程序配置
type AppConfig struct {
	// 截屏配置
	Capture CaptureConfig `json:"capture" mapstructure:"capture"`

	// 工作时间配置
	Schedule WorkSchedule `json:"schedule" mapstructure:"schedule"`

	// AI 配置
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// 存储配置
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// 控制通道配置
	Control ControlConfig `json:"control" mapstructure:"control"`

	// 服务器配置
	Server ServerConfig `json:"server" mapstructure:"server"`
}

// CaptureConfig 截屏配置
type CaptureConfig struct {
	Interval          int  `json:"interval" mapstructure:"interval"`                       // 截屏间隔（秒）
	WarmupSeconds     int  `json:"warmup_seconds" mapstructure:"warmup_seconds"`           // 启动后首次截屏前的等待（秒）
	SettleMillis      int  `json:"settle_millis" mapstructure:"settle_millis"`             // 截图写入后、分析前的等待（毫秒）
	FailureBackoff    int  `json:"failure_backoff" mapstructure:"failure_backoff"`         // 单次失败后额外等待（秒）
	TargetWidth       int  `json:"target_width" mapstructure:"target_width"`               // 缩放目标宽度，0 表示不缩放
	Grayscale         bool `json:"grayscale" mapstructure:"grayscale"`                     // 是否转换为灰度
	SkipWhenInactive  bool `json:"skip_when_inactive" mapstructure:"skip_when_inactive"`   // 锁屏/屏保时跳过
	HistoryCount      int  `json:"history_count" mapstructure:"history_count"`             // 提供给 AI 的历史条数
	WindowCacheMillis int  `json:"window_cache_millis" mapstructure:"window_cache_millis"` // 窗口信息缓存时长（毫秒）
}

// WorkSchedule 工作时间配置
type WorkSchedule struct {
	StartTime string `json:"start_time" mapstructure:"start_time"` // 开始时间 "09:00"
	EndTime   string `json:"end_time" mapstructure:"end_time"`     // 结束时间 "18:00"
	WorkDays  []int  `json:"work_days" mapstructure:"work_days"`   // 工作日 (0=周日, 1=周一, ...)
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`       // 是否在工作时间自动启停
}

// AIConfig AI 配置
type AIConfig struct {
	Provider       string `json:"provider" mapstructure:"provider"`               // siliconflow, openai, qwen, doubao, deepseek
	APIKey         string `json:"api_key" mapstructure:"api_key"`                 // API 密钥
	Model          string `json:"model" mapstructure:"model"`                     // 模型名称
	BaseURL        string `json:"base_url" mapstructure:"base_url"`               // 自定义端点，留空使用提供商默认值
	Prompt         string `json:"prompt" mapstructure:"prompt"`                   // 分析提示词
	MaxTokens      int    `json:"max_tokens" mapstructure:"max_tokens"`           // 最大 token 数
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"` // 单次请求超时（秒）
	MaxRetries     int    `json:"max_retries" mapstructure:"max_retries"`         // 最大尝试次数
	RetryDelays    []int  `json:"retry_delays" mapstructure:"retry_delays"`       // 每次重试前的等待（秒）
}

// StorageConfig 存储配置
type StorageConfig struct {
	DataDir        string `json:"data_dir" mapstructure:"data_dir"`               // 数据目录
	ScreenshotsDir string `json:"screenshots_dir" mapstructure:"screenshots_dir"` // 截图存储目录
	LogsDir        string `json:"logs_dir" mapstructure:"logs_dir"`               // 日志存储目录
	StatePath      string `json:"state_path" mapstructure:"state_path"`           // 服务状态文件
	RetentionDays  int    `json:"retention_days" mapstructure:"retention_days"`   // 截图保留天数
}

// ControlConfig 控制通道配置
type ControlConfig struct {
	SocketPath     string `json:"socket_path" mapstructure:"socket_path"`         // Unix socket 路径
	Port           int    `json:"port" mapstructure:"port"`                       // 无 Unix socket 时使用的回环端口
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"` // 客户端整体超时
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"` // 是否启用本地 HTTP 接口
	Port    int    `json:"port" mapstructure:"port"`       // 端口号
	Host    string `json:"host" mapstructure:"host"`       // 主机地址
}

// DefaultConfig 返回默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Capture: CaptureConfig{
			Interval:          60,
			WarmupSeconds:     5,
			SettleMillis:      500,
			FailureBackoff:    5,
			TargetWidth:       1440,
			Grayscale:         false,
			SkipWhenInactive:  true,
			HistoryCount:      5,
			WindowCacheMillis: 500,
		},
		Schedule: WorkSchedule{
			StartTime: "09:00",
			EndTime:   "18:00",
			WorkDays:  []int{1, 2, 3, 4, 5}, // 周一到周五
			Enabled:   false,
		},
		AI: AIConfig{
			Provider:       "siliconflow",
			Model:          "Qwen/Qwen2-VL-7B-Instruct",
			Prompt:         "请描述这张截图中用户正在使用什么软件，在做什么，并进行分类，严格按照格式输出结果：【类型】【软件】【主要工作摘要】。",
			MaxTokens:      512,
			TimeoutSeconds: 120,
			MaxRetries:     5,
			RetryDelays:    []int{5, 15, 30, 45},
		},
		Storage: StorageConfig{
			DataDir:        "./data",
			ScreenshotsDir: "./data/screenshots",
			LogsDir:        "./data/logs",
			StatePath:      "./data/service_state.json",
			RetentionDays:  30,
		},
		Control: ControlConfig{
			SocketPath:     "./data/screenlog.sock",
			Port:           9528,
			TimeoutSeconds: 30,
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    9527,
			Host:    "127.0.0.1",
		},
	}
}

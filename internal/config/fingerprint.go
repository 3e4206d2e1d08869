package config

import (
	"encoding/hex"
	"encoding/json"

	"ScreenLogAI/pkg/models"

	"github.com/zeebo/blake3"
)

// fingerprintInput 只包含会改变截屏/分析行为的配置项。
// 字段顺序固定，保证相同配置得到相同指纹；API Key 不参与计算。
type fingerprintInput struct {
	Interval       int    `json:"interval"`
	TargetWidth    int    `json:"target_width"`
	Grayscale      bool   `json:"grayscale"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	BaseURL        string `json:"base_url"`
	Prompt         string `json:"prompt"`
	ScreenshotsDir string `json:"screenshots_dir"`
	LogsDir        string `json:"logs_dir"`
}

// Fingerprint 计算配置指纹（blake3-256 的十六进制）
func Fingerprint(cfg *models.AppConfig) string {
	in := fingerprintInput{
		Interval:       cfg.Capture.Interval,
		TargetWidth:    cfg.Capture.TargetWidth,
		Grayscale:      cfg.Capture.Grayscale,
		Provider:       cfg.AI.Provider,
		Model:          cfg.AI.Model,
		BaseURL:        cfg.AI.BaseURL,
		Prompt:         cfg.AI.Prompt,
		ScreenshotsDir: cfg.Storage.ScreenshotsDir,
		LogsDir:        cfg.Storage.LogsDir,
	}
	// 结构体只含基本类型，Marshal 不会失败
	data, _ := json.Marshal(in)
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

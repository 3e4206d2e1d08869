// Package replay 用候选提示词重新分析已保存的截图，结果单独保存，便于和正式日志对比。
package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"ScreenLogAI/internal/capture"
	"ScreenLogAI/internal/storage"
	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/google/uuid"
)

var (
	// ErrEmptyPrompt 未提供测试提示词
	ErrEmptyPrompt = errors.New("测试 prompt 不能为空")
	// ErrNoLogs 没有可重新分析的活动日志
	ErrNoLogs = errors.New("没有找到现有的活动日志，无法进行测试")
)

// Analyzer 截图分析（由 ai.Analyzer 实现）
type Analyzer interface {
	Analyze(ctx context.Context, imagePath, prompt, contextText, historyText string) (*models.AnalysisResult, error)
	Model() string
}

// ResultStore 测试结果存储（由 storage.Manager 实现）
type ResultStore interface {
	AppendPromptTest(r *models.PromptTestResult) error
}

// Summary 一次提示词测试的统计
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Skipped   int // 截图不存在或没有截图路径
	Failed    int

	OriginalAvgLen float64 // 原描述平均字符数（仅统计成功的记录）
	TestAvgLen     float64
}

// LengthChange 描述长度变化百分比
func (s *Summary) LengthChange() float64 {
	if s.OriginalAvgLen == 0 {
		return 0
	}
	return (s.TestAvgLen - s.OriginalAvgLen) / s.OriginalAvgLen * 100
}

// Runner 提示词测试
type Runner struct {
	analyzer     Analyzer
	store        ResultStore
	historyCount int
}

// NewRunner 创建提示词测试，historyCount 为每条记录附带的历史条数
func NewRunner(analyzer Analyzer, store ResultStore, historyCount int) *Runner {
	return &Runner{analyzer: analyzer, store: store, historyCount: historyCount}
}

// Run 按时间顺序重新分析 logs 中截图仍存在的记录
func (r *Runner) Run(ctx context.Context, prompt string, logs []models.ActivityLog) (*Summary, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if len(logs) == 0 {
		return nil, ErrNoLogs
	}

	sum := &Summary{RunID: uuid.NewString(), Total: len(logs)}
	var origLen, testLen int

	logger.Info("🧪 开始测试新 prompt (%d 条记录, run %s)", len(logs), sum.RunID)

	for i, entry := range logs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if entry.ScreenshotPath == "" {
			logger.Warn("⚠️ 第 %d/%d 条记录没有截图路径，跳过", i+1, len(logs))
			sum.Skipped++
			continue
		}
		if _, err := os.Stat(entry.ScreenshotPath); err != nil {
			logger.Warn("⚠️ 截图文件不存在: %s，跳过此记录", entry.ScreenshotPath)
			sum.Skipped++
			continue
		}

		contextText := ""
		if entry.Context != nil {
			contextText = capture.FormatContext(entry.Context, nil, nil)
		}

		result, err := r.analyzer.Analyze(ctx, entry.ScreenshotPath, prompt, contextText, historyBefore(logs, i, r.historyCount))
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			logger.Error("❌ 重新分析失败 (#%d): %v", entry.ID, err)
			sum.Failed++
			continue
		}

		res := &models.PromptTestResult{
			RunID:               sum.RunID,
			SourceID:            entry.ID,
			Timestamp:           entry.Timestamp,
			Prompt:              prompt,
			Description:         result.Description,
			OriginalDescription: entry.Description,
			ScreenshotPath:      entry.ScreenshotPath,
			Model:               r.analyzer.Model(),
			TokenUsage:          result.TokenUsage,
		}
		if err := r.store.AppendPromptTest(res); err != nil {
			return sum, fmt.Errorf("failed to save prompt test result: %w", err)
		}

		sum.Succeeded++
		origLen += utf8.RuneCountInString(entry.Description)
		testLen += utf8.RuneCountInString(result.Description)
		logger.Info("✅ 第 %d/%d 条重新分析完成", i+1, len(logs))
	}

	if sum.Succeeded > 0 {
		sum.OriginalAvgLen = float64(origLen) / float64(sum.Succeeded)
		sum.TestAvgLen = float64(testLen) / float64(sum.Succeeded)
	}

	logger.Info("🎉 测试完成: 成功 %d, 跳过 %d, 失败 %d", sum.Succeeded, sum.Skipped, sum.Failed)
	return sum, nil
}

// historyBefore 当前记录之前的最近 count 条作为历史
func historyBefore(logs []models.ActivityLog, index, count int) string {
	if count <= 0 || index <= 0 {
		return storage.NoHistoryText
	}
	start := index - count
	if start < 0 {
		start = 0
	}
	return storage.FormatHistory(logs[start:index])
}

package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/utils"
)

// ErrAnalysisFailed 接口返回错误或响应无法解析
var ErrAnalysisFailed = errors.New("analysis failed")

// noDescription 接口返回成功但没有任何候选结果时使用的描述
const noDescription = "无法分析截图内容"

// providerBaseURLs 各提供商 OpenAI 兼容接口地址
var providerBaseURLs = map[string]string{
	"siliconflow": "https://api.siliconflow.cn/v1",
	"openai":      "https://api.openai.com/v1",
	"deepseek":    "https://api.deepseek.com/v1",
	"qwen":        "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"tongyi":      "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"doubao":      "https://ark.cn-beijing.volces.com/api/v3",
}

// BaseURL 返回配置对应的接口地址，自定义地址优先
func BaseURL(cfg models.AIConfig) (string, error) {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/"), nil
	}
	if u, ok := providerBaseURLs[strings.ToLower(cfg.Provider)]; ok {
		return u, nil
	}
	return "", fmt.Errorf("unsupported AI provider: %s", cfg.Provider)
}

// Analyzer 单张截图的 AI 分析器
type Analyzer struct {
	cfg     models.AIConfig
	baseURL string
	client  *http.Client
}

// NewAnalyzer 创建 AI 分析器
func NewAnalyzer(cfg models.AIConfig) (*Analyzer, error) {
	baseURL, err := BaseURL(cfg)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Analyzer{
		cfg:     cfg,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Model 当前使用的模型
func (a *Analyzer) Model() string {
	return a.cfg.Model
}

// chat/completions 请求结构
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []interface{} `json:"content"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageContent struct {
	Type     string   `json:"type"`
	ImageURL imageURL `json:"image_url"`
}

type imageURL struct {
	URL string `json:"url"`
}

// chat/completions 响应结构
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     *int `json:"prompt_tokens"`
		CompletionTokens *int `json:"completion_tokens"`
		TotalTokens      *int `json:"total_tokens"`
	} `json:"usage"`
}

// Analyze 分析一张截图
//
// contextText 为系统上下文，historyText 为最近活动历史，为空时不发送。
func (a *Analyzer) Analyze(ctx context.Context, imagePath, prompt, contextText, historyText string) (*models.AnalysisResult, error) {
	started := time.Now()

	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}

	content := []interface{}{
		textContent{Type: "text", Text: prompt},
	}
	if contextText != "" {
		content = append(content, textContent{
			Type: "text",
			Text: "以下是当前系统上下文，请结合截图一起分析：\n" + contextText,
		})
	}
	if historyText != "" {
		content = append(content, textContent{
			Type: "text",
			Text: historyText + "请参考用户的操作历史，分析当前截图时要考虑操作的连续性和上下文关系。",
		})
	}
	content = append(content, imageContent{
		Type: "image_url",
		ImageURL: imageURL{
			URL: fmt.Sprintf("data:%s;base64,%s", mimeType(imagePath), base64.StdEncoding.EncodeToString(imageData)),
		},
	})

	reqBody := chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: content},
		},
		MaxTokens: a.cfg.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.cfg.APIKey))

	logger.Debug("调用 AI 分析 (提供商: %s, 模型: %s, 图片: %d KB)", a.cfg.Provider, a.cfg.Model, len(imageData)/1024)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: API error: %s - %s", ErrAnalysisFailed, resp.Status, utils.TruncateString(string(body), 500))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		logger.Error("解析 AI 响应失败, 原始响应: %s", utils.TruncateString(string(body), 500))
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrAnalysisFailed, err)
	}

	result := &models.AnalysisResult{
		Description:    noDescription,
		ProcessingTime: time.Since(started),
	}
	if len(apiResp.Choices) > 0 {
		result.Description = strings.TrimSpace(apiResp.Choices[0].Message.Content)
	}
	if apiResp.Usage != nil {
		result.TokenUsage = &models.TokenUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		}
	}
	return result, nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// ModelInfo 可用模型
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ListModels 测试连接并获取模型列表
func (a *Analyzer) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.cfg.APIKey))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API 返回错误 %d: %s", resp.StatusCode, utils.TruncateString(string(body), 500))
	}

	var result struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("未找到可用模型")
	}
	return result.Data, nil
}

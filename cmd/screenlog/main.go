package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ScreenLogAI/internal/config"
	"ScreenLogAI/pkg/models"

	"github.com/alecthomas/kong"
)

const (
	AppName    = "ScreenLogAI"
	AppVersion = "0.3.0"
)

// CLI 命令行定义
type CLI struct {
	Config  string           `help:"配置文件路径（json/yaml/toml）" type:"path" env:"SCREENLOG_CONFIG"`
	Debug   bool             `help:"调试模式，日志同时输出到控制台"`
	Version kong.VersionFlag `help:"显示版本"`

	Serve  ServeCmd  `cmd:"" help:"运行后台服务（控制通道、截屏任务、定时任务）"`
	Start  StartCmd  `cmd:"" help:"开始记录屏幕活动"`
	Stop   StopCmd   `cmd:"" help:"停止记录屏幕活动"`
	Status StatusCmd `cmd:"" help:"查看服务状态"`
	Window WindowCmd `cmd:"" help:"查看当前前台窗口和切换统计"`
	Logs   LogsCmd   `cmd:"" help:"查看某一天的活动日志"`

	TestPrompt TestPromptCmd `cmd:"" name:"test-prompt" help:"用新的提示词重新分析已保存的截图，结果单独保存"`
}

// Globals 所有命令共享的参数和输出
type Globals struct {
	ConfigPath string
	Debug      bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// getAppDataDir 获取应用数据目录
// Windows: %LOCALAPPDATA%\ScreenLogAI，其他平台使用当前工作目录
func getAppDataDir() (string, error) {
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, AppName), nil
	}
	return os.Getwd()
}

func defaultConfigPath() (string, error) {
	dir, err := getAppDataDir()
	if err != nil {
		return "", fmt.Errorf("无法获取应用数据目录: %w", err)
	}
	return filepath.Join(dir, "data", "config.json"), nil
}

// loadConfig 客户端命令读取配置，文件不存在时使用默认值（不写盘）
func (g *Globals) loadConfig() (*models.AppConfig, error) {
	if _, err := os.Stat(g.ConfigPath); errors.Is(err, os.ErrNotExist) {
		return models.DefaultConfig(), nil
	}
	return config.Load(g.ConfigPath)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("screenlog"),
		kong.Description("ScreenLog AI: 定时截屏 + AI 描述 + 每日活动日志"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		kong.Vars{"version": AppVersion},
	)

	configPath := cli.Config
	if configPath == "" {
		p, err := defaultConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
		configPath = p
	}

	globals := &Globals{
		ConfigPath: configPath,
		Debug:      cli.Debug,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
	if err := ctx.Run(globals); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"ScreenLogAI/internal/ai"
	"ScreenLogAI/internal/control"
	"ScreenLogAI/internal/replay"
	"ScreenLogAI/internal/storage"
	"ScreenLogAI/internal/tracker"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/screenstate"
	"ScreenLogAI/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// StartCmd 开始记录
type StartCmd struct{}

// Run 发送 start 命令
func (c *StartCmd) Run(g *Globals) error {
	return sendCommand(g, models.CommandStart)
}

// StopCmd 停止记录
type StopCmd struct{}

// Run 发送 stop 命令
func (c *StopCmd) Run(g *Globals) error {
	return sendCommand(g, models.CommandStop)
}

// StatusCmd 查看状态
type StatusCmd struct{}

// Run 发送 status 命令
func (c *StatusCmd) Run(g *Globals) error {
	return sendCommand(g, models.CommandStatus)
}

func sendCommand(g *Globals, kind models.CommandKind) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	resp, err := control.NewClient(cfg.Control).Send(context.Background(), kind)
	switch {
	case errors.Is(err, control.ErrServiceNotRunning):
		return fmt.Errorf("服务未运行，请先执行 screenlog serve")
	case errors.Is(err, control.ErrTimeout):
		return fmt.Errorf("等待服务响应超时")
	case err != nil:
		return err
	}

	renderResponse(g.Stdout, resp, time.Now())
	if !resp.Success {
		return errors.New(resp.Message)
	}
	return nil
}

// renderResponse 输出命令结果和状态表
func renderResponse(w io.Writer, resp *models.ServiceResponse, now time.Time) {
	icon := "✅"
	if !resp.Success {
		icon = "❌"
	}
	fmt.Fprintf(w, "%s %s\n", icon, resp.Message)
	if resp.State == nil {
		return
	}

	st := resp.State
	table := tablewriter.NewWriter(w)
	table.Header("项目", "值")
	table.Append([]string{"状态", statusText(st.Status)})
	table.Append([]string{"累计截屏", humanize.Comma(int64(st.TotalCaptures))})
	table.Append([]string{"上次启动", relTime(st.LastStartTime, now)})
	table.Append([]string{"上次停止", relTime(st.LastStopTime, now)})
	table.Append([]string{"上次截屏", relTime(st.LastCaptureTime, now)})
	table.Append([]string{"配置指纹", shortFingerprint(st.ConfigFingerprint)})
	table.Render()
}

func statusText(s models.ServiceStatus) string {
	if s == models.StatusRunning {
		return "🟢 运行中"
	}
	return "⚪ 已停止"
}

func relTime(t *time.Time, now time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", t.Local().Format("2006-01-02 15:04:05"), humanize.RelTime(*t, now, "前", "后"))
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// WindowCmd 查看前台窗口
type WindowCmd struct {
	Watch    time.Duration `help:"持续采样的时长，例如 30s；为 0 时只查询一次" default:"0s"`
	Interval time.Duration `help:"采样间隔" default:"1s"`
}

// Run 在本进程内采样前台窗口并输出切换统计
func (c *WindowCmd) Run(g *Globals) error {
	t := tracker.New(tracker.WindowSourceFunc(screenstate.ForegroundWindow))

	current := t.CurrentWindow()
	if c.Watch > 0 {
		interval := c.Interval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		deadline := time.After(c.Watch)
	sampling:
		for {
			select {
			case <-deadline:
				break sampling
			case <-ticker.C:
				current = t.CurrentWindow()
			}
		}
	}

	renderWindow(g.Stdout, current, t.Stats(), t.SwitchHistory(10))
	return nil
}

func renderWindow(w io.Writer, current *models.WindowFocusSample, stats models.WindowSwitchStats, history []models.WindowSwitchEvent) {
	if current == nil {
		fmt.Fprintln(w, "🪟 当前没有可用的前台窗口信息")
	} else {
		fmt.Fprintf(w, "🪟 %s - %s\n", orDash(current.AppName), orDash(current.WindowTitle))
	}

	fmt.Fprintf(w, "切换次数: %d, 当前会话: %s\n", stats.TotalSwitches, millis(stats.CurrentSessionDurationMs))

	if len(stats.MostUsedApps) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("应用", "使用时长")
		for _, u := range stats.MostUsedApps {
			table.Append([]string{u.AppName, millis(u.DurationMs)})
		}
		table.Render()
	}

	if len(history) > 0 {
		table := tablewriter.NewWriter(w)
		table.Header("时间", "从", "到", "停留")
		for _, e := range history {
			table.Append([]string{e.Timestamp.Local().Format("15:04:05"), orDash(e.FromApp), orDash(e.ToApp), millis(e.DurationMs)})
		}
		table.Render()
	}
}

func millis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// LogsCmd 查看活动日志
type LogsCmd struct {
	Date string `arg:"" optional:"" help:"日期 YYYY-MM-DD，默认今天"`
	List bool   `help:"列出有记录的日期"`
}

// Run 直接读取本地数据库
func (c *LogsCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewManager(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.List {
		days, err := store.ListDays(30)
		if err != nil {
			return err
		}
		renderDays(g.Stdout, days)
		return nil
	}

	day := c.Date
	if day == "" {
		day = utils.DayKey(time.Now())
	}
	logs, err := store.LoadDay(day)
	if err != nil {
		return err
	}
	renderLogs(g.Stdout, day, logs)
	return nil
}

func renderDays(w io.Writer, days []storage.DayCount) {
	if len(days) == 0 {
		fmt.Fprintln(w, "暂无活动记录")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("日期", "记录数")
	for _, d := range days {
		table.Append([]string{d.Day, humanize.Comma(d.Count)})
	}
	table.Render()
}

func renderLogs(w io.Writer, day string, logs []models.ActivityLog) {
	fmt.Fprintf(w, "📅 %s 共 %d 条记录\n", day, len(logs))
	if len(logs) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("时间", "窗口", "描述")
	for _, l := range logs {
		window := "-"
		if l.Context != nil && l.Context.ActiveApp != "" {
			window = l.Context.ActiveApp
		}
		table.Append([]string{l.Timestamp.Local().Format("15:04:05"), window, utils.TruncateString(l.Description, 80)})
	}
	table.Render()
}

// TestPromptCmd 提示词测试
type TestPromptCmd struct {
	Prompt string `required:"" help:"要测试的提示词"`
	Date   string `help:"只测试某一天 YYYY-MM-DD，默认最近几天"`
	Days   int    `help:"未指定日期时读取的天数" default:"1"`
	Limit  int    `help:"最多重新分析的记录数，0 表示不限" default:"0"`
}

// Run 读取活动日志并用新提示词重新分析
func (c *TestPromptCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewManager(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	logs, err := c.loadLogs(store)
	if err != nil {
		return err
	}

	analyzer, err := ai.NewAnalyzer(cfg.AI)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintf(g.Stdout, "🧪 测试 prompt: %s\n📋 共 %d 条记录\n", c.Prompt, len(logs))
	sum, err := replay.NewRunner(analyzer, store, cfg.Capture.HistoryCount).Run(ctx, c.Prompt, logs)
	if sum != nil {
		renderReplaySummary(g.Stdout, sum)
	}
	return err
}

func (c *TestPromptCmd) loadLogs(store *storage.Manager) ([]models.ActivityLog, error) {
	var (
		logs []models.ActivityLog
		err  error
	)
	if c.Date != "" {
		logs, err = store.LoadDay(c.Date)
	} else {
		logs, err = store.LoadRecentDays(c.Days)
	}
	if err != nil {
		return nil, err
	}
	if c.Limit > 0 && len(logs) > c.Limit {
		logs = logs[len(logs)-c.Limit:]
	}
	return logs, nil
}

func renderReplaySummary(w io.Writer, sum *replay.Summary) {
	table := tablewriter.NewWriter(w)
	table.Header("项目", "值")
	table.Append([]string{"测试编号", sum.RunID})
	table.Append([]string{"记录数", humanize.Comma(int64(sum.Total))})
	table.Append([]string{"成功", humanize.Comma(int64(sum.Succeeded))})
	table.Append([]string{"跳过", humanize.Comma(int64(sum.Skipped))})
	table.Append([]string{"失败", humanize.Comma(int64(sum.Failed))})
	table.Append([]string{"原始平均长度", fmt.Sprintf("%.1f 字符", sum.OriginalAvgLen)})
	table.Append([]string{"测试平均长度", fmt.Sprintf("%.1f 字符", sum.TestAvgLen)})
	table.Append([]string{"长度变化", fmt.Sprintf("%+.1f%%", sum.LengthChange())})
	table.Render()
}

package capture

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strings"
	"time"

	"ScreenLogAI/pkg/models"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	// recentSwitchCount 上下文中附带的最近切换条数
	recentSwitchCount = 5
	// TopProcessCount 上下文中附带的高 CPU 进程数
	TopProcessCount = 10
	// processSampleWindow CPU 占用需要两次采样
	processSampleWindow = 200 * time.Millisecond
)

// FocusSource 截屏循环需要的窗口信息（由 tracker.Tracker 实现）
type FocusSource interface {
	CurrentWindow() *models.WindowFocusSample
	Stats() models.WindowSwitchStats
	SwitchHistory(limit int) []models.WindowSwitchEvent
}

// CollectSystemInfo 收集主机信息
func CollectSystemInfo() *models.SystemInfo {
	info := &models.SystemInfo{Platform: runtime.GOOS + "/" + runtime.GOARCH}
	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	if u, err := user.Current(); err == nil {
		info.Username = u.Username
	}
	if h, err := host.Info(); err == nil {
		info.OSVersion = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
		if info.Hostname == "" {
			info.Hostname = h.Hostname
		}
	}
	return info
}

// processCPU 某一时刻进程累计的 CPU 秒数
type processCPU struct {
	name    string
	seconds float64
}

func sampleProcesses(ctx context.Context) map[int32]processCPU {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	out := make(map[int32]processCPU, len(procs))
	for _, p := range procs {
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		out[p.Pid] = processCPU{name: name, seconds: times.User + times.System}
	}
	return out
}

// TopProcesses 采样两次进程 CPU 时间，返回占用最高的 n 个进程
func TopProcesses(ctx context.Context, n int) []models.ProcessInfo {
	before := sampleProcesses(ctx)
	if len(before) == 0 {
		return nil
	}
	started := time.Now()
	if err := sleepContext(ctx, processSampleWindow); err != nil {
		return nil
	}
	return rankProcesses(before, sampleProcesses(ctx), time.Since(started), n)
}

// rankProcesses 按两次采样间的 CPU 占用降序排列，同占用按名称排序
func rankProcesses(before, after map[int32]processCPU, elapsed time.Duration, n int) []models.ProcessInfo {
	if elapsed <= 0 || n <= 0 {
		return nil
	}
	procs := make([]models.ProcessInfo, 0, len(after))
	for pid, a := range after {
		b, ok := before[pid]
		if !ok {
			continue
		}
		delta := a.seconds - b.seconds
		if delta < 0 {
			delta = 0
		}
		procs = append(procs, models.ProcessInfo{Name: a.name, CPUPercent: delta / elapsed.Seconds() * 100})
	}
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].CPUPercent != procs[j].CPUPercent {
			return procs[i].CPUPercent > procs[j].CPUPercent
		}
		return procs[i].Name < procs[j].Name
	})
	if len(procs) > n {
		procs = procs[:n]
	}
	return procs
}

// BuildSystemContext 组合当前窗口与主机信息
func BuildSystemContext(focus *models.WindowFocusSample, info *models.SystemInfo, at time.Time) *models.SystemContext {
	sc := &models.SystemContext{SystemInfo: info, Timestamp: at}
	if focus != nil {
		sc.ActiveApp = focus.AppName
		sc.WindowTitle = focus.WindowTitle
	}
	return sc
}

// FormatContext 将系统上下文格式化为提供给 AI 的文本
func FormatContext(sc *models.SystemContext, stats *models.WindowSwitchStats, switches []models.WindowSwitchEvent) string {
	var sb strings.Builder

	if info := sc.SystemInfo; info != nil {
		fmt.Fprintf(&sb, "用户: %s\n主机: %s\nOS: %s\n", info.Username, info.Hostname,
			strings.TrimSpace(info.Platform+" "+info.OSVersion))
	}

	if sc.ActiveApp == "" && sc.WindowTitle == "" {
		sb.WriteString("前台应用: 未知\n窗口标题: 未知\n")
		writeProcesses(&sb, sc.TopProcesses)
		return sb.String()
	}

	fmt.Fprintf(&sb, "前台应用: %s\n窗口标题: %s\n", orUnknown(sc.ActiveApp), orUnknown(sc.WindowTitle))

	if stats != nil {
		fmt.Fprintf(&sb, "窗口切换统计:\n  - 总切换次数: %d\n  - 当前会话时长: %.1f分钟\n",
			stats.TotalSwitches, float64(stats.CurrentSessionDurationMs)/60000.0)
		if len(stats.MostUsedApps) > 0 {
			sb.WriteString("  - 最常用应用:\n")
			for _, u := range stats.MostUsedApps {
				fmt.Fprintf(&sb, "    * %s: %.1f分钟\n", u.AppName, float64(u.DurationMs)/60000.0)
			}
		}
	}

	if len(switches) > 0 {
		sb.WriteString("最近窗口切换:\n")
		// 最新的在前
		for i := len(switches) - 1; i >= 0; i-- {
			s := switches[i]
			fmt.Fprintf(&sb, "  - %s -> %s (停留%.1f秒)\n", orUnknown(s.FromApp), orUnknown(s.ToApp), float64(s.DurationMs)/1000.0)
		}
	}

	writeProcesses(&sb, sc.TopProcesses)
	return sb.String()
}

func writeProcesses(sb *strings.Builder, procs []models.ProcessInfo) {
	if len(procs) == 0 {
		return
	}
	sb.WriteString("Top 进程:\n")
	for _, p := range procs {
		fmt.Fprintf(sb, "  - %s | cpu: %.1f%%\n", p.Name, p.CPUPercent)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "未知"
	}
	return s
}

//go:build darwin

package screenstate

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"ScreenLogAI/pkg/models"
)

const scriptTimeout = 2 * time.Second

// frontmostScript 输出 "应用名\n进程号\n窗口标题"
const frontmostScript = `tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set appPID to unix id of frontApp
	set winTitle to ""
	try
		set winTitle to name of front window of frontApp
	end try
end tell
return appName & linefeed & appPID & linefeed & winTitle`

// IsScreenActive 锁屏时 System Events 查询不到前台应用
func IsScreenActive() bool {
	sample, err := ForegroundWindow()
	if err != nil {
		return true
	}
	return sample != nil && sample.AppName != "loginwindow" && sample.AppName != "ScreenSaverEngine"
}

// ForegroundWindow 通过 osascript 查询前台应用和窗口标题
func ForegroundWindow() (*models.WindowFocusSample, error) {
	ctx, cancel := context.WithTimeout(context.Background(), scriptTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "osascript", "-e", frontmostScript).Output()
	if err != nil {
		return nil, fmt.Errorf("osascript failed: %w", err)
	}
	return parseFrontmost(string(out), time.Now()), nil
}

func parseFrontmost(out string, now time.Time) *models.WindowFocusSample {
	lines := strings.SplitN(strings.TrimRight(out, "\n"), "\n", 3)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil
	}

	sample := &models.WindowFocusSample{
		AppName:   strings.TrimSpace(lines[0]),
		Timestamp: now,
	}
	if len(lines) > 1 {
		if pid, err := strconv.ParseUint(strings.TrimSpace(lines[1]), 10, 32); err == nil {
			p := uint32(pid)
			sample.ProcessID = &p
		}
	}
	if len(lines) > 2 {
		sample.WindowTitle = strings.TrimSpace(lines[2])
	}
	return sample
}

//go:build windows

package screenstate

import (
	"time"
	"unsafe"

	"ScreenLogAI/pkg/models"

	"golang.org/x/sys/windows"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procSystemParametersInfo = user32.NewProc("SystemParametersInfoW")
	procGetWindowRect        = user32.NewProc("GetWindowRect")
)

const (
	spiGetScreenSaverRunning = 0x0072
	maxTitleLength           = 512
)

// IsScreenLocked 检测屏幕是否被锁定
// 通过检查是否有前台窗口来判断（锁屏时没有前台窗口）
func IsScreenLocked() bool {
	return windows.GetForegroundWindow() == 0
}

// IsScreensaverRunning 检测屏幕保护程序是否正在运行
func IsScreensaverRunning() bool {
	var running uint32
	ret, _, _ := procSystemParametersInfo.Call(
		uintptr(spiGetScreenSaverRunning),
		0,
		uintptr(unsafe.Pointer(&running)),
		0,
	)
	if ret == 0 {
		// API调用失败，假设屏保未运行
		return false
	}
	return running != 0
}

// IsScreenActive 检测屏幕是否处于活跃状态（未锁定、未运行屏保）
func IsScreenActive() bool {
	return !IsScreensaverRunning() && !IsScreenLocked()
}

// ForegroundWindow 查询前台窗口的标题、进程名、位置和进程号
func ForegroundWindow() (*models.WindowFocusSample, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return nil, nil
	}

	sample := &models.WindowFocusSample{Timestamp: time.Now()}

	buf := make([]uint16, maxTitleLength)
	if n, err := windows.GetWindowText(hwnd, &buf[0], int32(len(buf))); err == nil && n > 0 {
		sample.WindowTitle = windows.UTF16ToString(buf[:n])
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err == nil && pid != 0 {
		sample.ProcessID = &pid
		sample.AppName = processName(pid)
	}

	var rect windows.Rect
	if ret, _, _ := procGetWindowRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&rect))); ret != 0 {
		sample.Bounds = &models.WindowBounds{
			X:      int(rect.Left),
			Y:      int(rect.Top),
			Width:  int(rect.Right - rect.Left),
			Height: int(rect.Bottom - rect.Top),
		}
	}

	if sample.AppName == "" && sample.WindowTitle == "" {
		return nil, nil
	}
	return sample, nil
}

func processName(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return appNameFromPath(windows.UTF16ToString(buf[:size]))
}

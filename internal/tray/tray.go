package tray

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/systray"
)

// refreshInterval 菜单状态刷新间隔
const refreshInterval = 5 * time.Second

// Service 托盘菜单发出的命令（由 service.Dispatcher 实现）
type Service interface {
	Start() models.ServiceResponse
	Stop() models.ServiceResponse
	State() models.PersistentServiceState
	Running() bool
}

// TrayApp 托盘应用
type TrayApp struct {
	service Service
	webURL  string
	onExit  func()

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTrayApp 创建托盘应用，webURL 为空时不显示管理界面菜单
func NewTrayApp(service Service, webURL string, onExit func()) *TrayApp {
	ctx, cancel := context.WithCancel(context.Background())
	return &TrayApp{
		service: service,
		webURL:  webURL,
		onExit:  onExit,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run 运行托盘应用（阻塞，必须在主 goroutine 调用）
func (t *TrayApp) Run() {
	systray.Run(t.onReady, t.onQuit)
}

// onReady 托盘准备就绪
func (t *TrayApp) onReady() {
	systray.SetIcon(getIcon())
	systray.SetTitle("ScreenLog")
	systray.SetTooltip("ScreenLog AI - 屏幕活动记录\n点击右键查看选项")

	mStatus := systray.AddMenuItem(statusLabel(t.service.State(), t.service.Running(), time.Now()), "当前服务状态")
	mStatus.Disable()

	systray.AddSeparator()

	mStart := systray.AddMenuItem("▶️ 开始记录", "启动截屏服务")
	mStop := systray.AddMenuItem("⏹️ 停止记录", "停止截屏服务")

	var openCh <-chan struct{}
	if t.webURL != "" {
		mOpen := systray.AddMenuItem("🌐 打开管理界面", "在浏览器中打开 Web 管理页面")
		openCh = mOpen.ClickedCh
	}

	systray.AddSeparator()
	mQuit := systray.AddMenuItem("❌ 退出程序", "退出 ScreenLog")

	refresh := func() {
		state := t.service.State()
		running := t.service.Running()
		mStatus.SetTitle(statusLabel(state, running, time.Now()))
		if state.Status == models.StatusRunning {
			mStart.Disable()
			mStop.Enable()
		} else {
			mStart.Enable()
			mStop.Disable()
		}
	}
	refresh()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-t.ctx.Done():
				return

			case <-ticker.C:
				refresh()

			case <-mStart.ClickedCh:
				resp := t.service.Start()
				logger.Info("📱 托盘启动: %s", resp.Message)
				refresh()

			case <-mStop.ClickedCh:
				resp := t.service.Stop()
				logger.Info("📱 托盘停止: %s", resp.Message)
				refresh()

			case <-openCh:
				t.openBrowser()

			case <-mQuit.ClickedCh:
				logger.Info("🛑 用户请求退出...")
				systray.Quit()
				return
			}
		}
	}()
}

// statusLabel 状态菜单文字
func statusLabel(state models.PersistentServiceState, running bool, now time.Time) string {
	if state.Status != models.StatusRunning {
		return "⚪ 已停止"
	}
	label := fmt.Sprintf("🟢 记录中 · 共 %d 次", state.TotalCaptures)
	if !running {
		label = fmt.Sprintf("🟡 等待恢复 · 共 %d 次", state.TotalCaptures)
	}
	if state.LastCaptureTime != nil {
		label += " · " + humanize.RelTime(*state.LastCaptureTime, now, "前", "后")
	}
	return label
}

// onQuit 托盘退出
func (t *TrayApp) onQuit() {
	t.cancel()
	if t.onExit != nil {
		t.onExit()
	}
	logger.Info("👋 ScreenLog 已退出")
}

// openBrowser 打开浏览器
func (t *TrayApp) openBrowser() {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", t.webURL)
	case "darwin":
		cmd = exec.Command("open", t.webURL)
	default: // linux
		cmd = exec.Command("xdg-open", t.webURL)
	}

	if err := cmd.Start(); err != nil {
		logger.Warn("无法打开浏览器: %v", err)
	}
}

// Quit 退出托盘
func (t *TrayApp) Quit() {
	systray.Quit()
}

// getIcon 获取托盘图标
//
// Windows 托盘使用 .ico，其他平台使用 .png；在可执行文件所在目录的 assets 下查找，
// 找不到时使用内置图标。
func getIcon() []byte {
	exePath, err := os.Executable()
	baseDir := "."
	if err == nil {
		baseDir = filepath.Dir(exePath)
	}

	var candidates []string
	if runtime.GOOS == "windows" {
		candidates = []string{
			filepath.Join(baseDir, "assets", "screenlog.ico"),
		}
	} else {
		candidates = []string{
			filepath.Join(baseDir, "assets", "screenlog.png"),
			filepath.Join(baseDir, "assets", "screenlog_16x16.png"),
		}
	}

	for _, iconPath := range candidates {
		if data, err := os.ReadFile(iconPath); err == nil && len(data) > 0 {
			logger.Debug("使用托盘图标: %s (%s)", iconPath, humanize.Bytes(uint64(len(data))))
			return data
		}
	}

	logger.Debug("未找到自定义图标文件，使用内置默认图标")
	// 16x16 蓝色方块 PNG
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x91, 0x68,
		0x36, 0x00, 0x00, 0x00, 0x19, 0x49, 0x44, 0x41,
		0x54, 0x28, 0x91, 0x63, 0x64, 0x60, 0xF8, 0x0F,
		0x04, 0x0C, 0x0C, 0x8C, 0x40, 0x06, 0x06, 0x46,
		0x20, 0x03, 0x03, 0x23, 0x00, 0x00, 0x0F, 0x70,
		0x01, 0x18, 0xE5, 0xD4, 0x8F, 0x4F, 0x00, 0x00,
		0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42,
		0x60, 0x82,
	}
}

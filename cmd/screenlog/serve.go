package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"ScreenLogAI/internal/ai"
	"ScreenLogAI/internal/capture"
	"ScreenLogAI/internal/config"
	"ScreenLogAI/internal/control"
	"ScreenLogAI/internal/scheduler"
	"ScreenLogAI/internal/server"
	"ScreenLogAI/internal/service"
	"ScreenLogAI/internal/singleton"
	"ScreenLogAI/internal/state"
	"ScreenLogAI/internal/storage"
	"ScreenLogAI/internal/tracker"
	"ScreenLogAI/internal/tray"
	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/screenstate"
)

// ServeCmd 后台服务
type ServeCmd struct {
	Tray bool `help:"显示系统托盘菜单"`
}

// Run 组装并运行所有组件，收到 SIGINT/SIGTERM 或托盘退出时返回
func (c *ServeCmd) Run(g *Globals) error {
	configMgr, err := config.NewManager(g.ConfigPath)
	if err != nil {
		return fmt.Errorf("初始化配置管理器失败: %w", err)
	}
	cfg := configMgr.Get()

	if err := logger.Init(cfg.Storage.LogsDir, g.Debug); err != nil {
		fmt.Fprintf(g.Stderr, "⚠️ 日志系统初始化失败: %v, 使用控制台输出\n", err)
	}
	defer logger.Close()

	logger.Info("==================== ScreenLogAI %s 启动 ====================", AppVersion)
	logger.Info("配置文件: %s", configMgr.Path())
	logger.Info("数据目录: %s", cfg.Storage.DataDir)

	// 单实例检测 - 防止程序重复启动
	mutex, err := singleton.EnsureSingleInstance(AppName, cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	defer mutex.Close()

	for _, dir := range []string{cfg.Storage.DataDir, cfg.Storage.ScreenshotsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}

	stateMgr, err := state.NewManager(cfg.Storage.StatePath, config.Fingerprint(cfg))
	if err != nil {
		return fmt.Errorf("初始化服务状态失败: %w", err)
	}

	storageMgr, err := storage.NewManager(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("初始化存储管理器失败: %w", err)
	}
	defer storageMgr.Close()

	windows := tracker.New(
		tracker.WindowSourceFunc(screenstate.ForegroundWindow),
		tracker.WithCacheTTL(time.Duration(cfg.Capture.WindowCacheMillis)*time.Millisecond),
	)

	supervisor := capture.NewSupervisor(stateMgr, capture.Deps{
		Screener: capture.NewScreenCapturer(),
		NewAnalyzer: func(aiCfg models.AIConfig) (capture.Analyzer, error) {
			a, err := ai.NewAnalyzer(aiCfg)
			if err != nil {
				return nil, err
			}
			return a, nil
		},
		Sink:         storageMgr,
		Focus:        windows,
		ScreenActive: screenstate.IsScreenActive,
		SystemInfo:   capture.CollectSystemInfo(),
		Processes: func(ctx context.Context) []models.ProcessInfo {
			return capture.TopProcesses(ctx, capture.TopProcessCount)
		},
	})

	dispatcher := service.NewDispatcher(stateMgr, supervisor, configMgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 控制通道
	ctrl := control.NewServer(configMgr.GetControl(), dispatcher)
	if err := ctrl.Listen(); err != nil {
		return fmt.Errorf("控制通道监听失败: %w", err)
	}
	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Serve(ctx); err != nil {
			logger.Error("❌ 控制通道错误: %v", err)
		}
	}()

	if err := dispatcher.Resume(); err != nil {
		logger.Error("❌ 恢复截屏任务失败: %v", err)
	}

	// 定时任务
	sched := scheduler.NewScheduler(configMgr, storageMgr, dispatcher)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("启动任务调度器失败: %w", err)
	}
	defer sched.Stop()

	// 配置热加载
	if err := configMgr.Watch(ctx, func(old, current *models.AppConfig) {
		dispatcher.OnConfigChange(old, current)
		if !reflect.DeepEqual(old.Schedule, current.Schedule) {
			if err := sched.Reload(); err != nil {
				logger.Warn("⚠️ 重新加载工作时间任务失败: %v", err)
			}
		}
	}); err != nil {
		logger.Warn("⚠️ 配置热加载不可用: %v", err)
	}

	// 本地 HTTP 接口
	webURL := ""
	if serverCfg := configMgr.GetServer(); serverCfg.Enabled {
		webServer := server.NewServer(server.Deps{
			Service: dispatcher,
			Windows: windows,
			Logs:    storageMgr,
			Config:  configMgr,
			Screens: capture.GetScreens,
		}, AppVersion)
		go func() {
			if err := webServer.Start(); err != nil {
				logger.Error("❌ Web 服务器错误: %v", err)
				stop()
			}
		}()
		defer webServer.Shutdown()
		webURL = "http://" + webServer.Addr()
	}

	if c.Tray {
		trayApp := tray.NewTrayApp(dispatcher, webURL, stop)
		go func() {
			<-ctx.Done()
			trayApp.Quit()
		}()
		// 运行托盘应用（阻塞）
		trayApp.Run()
	} else {
		<-ctx.Done()
	}

	logger.Info("📦 正在清理资源...")
	stop()
	dispatcher.Shutdown()
	<-ctrlDone
	logger.Info("✅ 资源清理完成")
	return nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ScreenLogAI/internal/ai"
	"ScreenLogAI/internal/config"
	"ScreenLogAI/internal/storage"
	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"
	"ScreenLogAI/pkg/utils"

	"github.com/gin-gonic/gin"
)

// maskedKey 接口返回配置时替换 API 密钥
const maskedKey = "******"

// ServiceController 服务启停（由 service.Dispatcher 实现）
type ServiceController interface {
	Start() models.ServiceResponse
	Stop() models.ServiceResponse
	Status() models.ServiceResponse
	Running() bool
}

// WindowTracker 窗口活动（由 tracker.Tracker 实现）
type WindowTracker interface {
	CurrentWindow() *models.WindowFocusSample
	Stats() models.WindowSwitchStats
	SwitchHistory(limit int) []models.WindowSwitchEvent
	Sessions() []models.WindowSession
	AppUsage() []models.AppUsage
}

// LogStore 活动日志（由 storage.Manager 实现）
type LogStore interface {
	LoadDay(day string) ([]models.ActivityLog, error)
	ListDays(limit int) ([]storage.DayCount, error)
	GetStorageStats() (*models.StorageStats, error)
}

// Deps 服务器依赖
type Deps struct {
	Service ServiceController
	Windows WindowTracker
	Logs    LogStore
	Config  *config.Manager
	Screens func() []models.ScreenInfo
}

// Server Web 服务器
type Server struct {
	router     *gin.Engine
	deps       Deps
	addr       string
	version    string
	httpServer *http.Server
}

// NewServer 创建 Web 服务器
func NewServer(deps Deps, version string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	serverCfg := deps.Config.GetServer()
	addr := fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port)

	s := &Server{
		router:  router,
		deps:    deps,
		addr:    addr,
		version: version,
	}

	s.setupRoutes()
	return s
}

// requestLogger 请求日志写入 zap
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("🌐 %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		// 系统信息
		api.GET("/version", s.handleGetVersion)

		// 配置管理
		api.GET("/config", s.handleGetConfig)
		api.PUT("/config", s.handleUpdateConfig)
		api.GET("/screens", s.handleGetScreens)

		// AI 相关
		api.POST("/ai/test-connection", s.handleTestAIConnection)

		// 服务控制
		api.POST("/service/start", s.handleStartService)
		api.POST("/service/stop", s.handleStopService)
		api.GET("/service/status", s.handleGetStatus)

		// 窗口活动
		api.GET("/window/current", s.handleCurrentWindow)
		api.GET("/window/stats", s.handleWindowStats)
		api.GET("/window/history", s.handleSwitchHistory)
		api.GET("/window/sessions", s.handleSessions)
		api.GET("/window/usage", s.handleAppUsage)

		// 活动日志
		api.GET("/logs", s.handleListDays)
		api.GET("/logs/:date", s.handleGetLogsByDate)
		api.GET("/stats/storage", s.handleGetStorageStats)
	}
}

// Handler 返回路由（测试使用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.addr
}

// Start 启动服务器（会阻塞）
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("🌐 Web服务器启动: http://%s", s.addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}

	logger.Info("🛑 正在关闭 Web 服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("⚠️ 服务器关闭错误: %v", err)
		return err
	}

	logger.Info("✅ Web 服务器已关闭")
	return nil
}

// ===== 处理函数 =====

func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.version,
		"name":    "ScreenLog AI",
	})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg := s.deps.Config.Get()
	if cfg.AI.APIKey != "" {
		cfg.AI.APIKey = maskedKey
	}
	c.JSON(http.StatusOK, cfg)
}

// handleUpdateConfig 更新配置，密钥为掩码时保留原值
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var newConfig models.AppConfig
	if err := c.ShouldBindJSON(&newConfig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if newConfig.Capture.Interval <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "截屏间隔必须大于 0"})
		return
	}

	if err := s.deps.Config.Update(func(cfg *models.AppConfig) {
		if newConfig.AI.APIKey == maskedKey {
			newConfig.AI.APIKey = cfg.AI.APIKey
		}
		*cfg = newConfig
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "配置已更新"})
}

func (s *Server) handleGetScreens(c *gin.Context) {
	if s.deps.Screens == nil {
		c.JSON(http.StatusOK, []models.ScreenInfo{})
		return
	}
	c.JSON(http.StatusOK, s.deps.Screens())
}

// handleTestAIConnection 测试 AI 连接并获取模型列表，未填写的字段使用当前配置
func (s *Server) handleTestAIConnection(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		BaseURL  string `json:"base_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	aiCfg := s.deps.Config.GetAI()
	if req.Provider != "" {
		aiCfg.Provider = req.Provider
		aiCfg.BaseURL = ""
	}
	if req.BaseURL != "" {
		aiCfg.BaseURL = req.BaseURL
	}
	if req.APIKey != "" && req.APIKey != maskedKey {
		aiCfg.APIKey = req.APIKey
	}
	if aiCfg.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API 密钥不能为空"})
		return
	}

	analyzer, err := ai.NewAnalyzer(aiCfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	list, err := analyzer.ListModels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"models":  list,
	})
}

func (s *Server) handleStartService(c *gin.Context) {
	writeServiceResponse(c, s.deps.Service.Start())
}

func (s *Server) handleStopService(c *gin.Context) {
	writeServiceResponse(c, s.deps.Service.Stop())
}

// handleGetStatus 服务状态，附带截屏任务是否存活
func (s *Server) handleGetStatus(c *gin.Context) {
	resp := s.deps.Service.Status()
	c.JSON(http.StatusOK, gin.H{
		"success":     resp.Success,
		"message":     resp.Message,
		"state":       resp.State,
		"loop_active": s.deps.Service.Running(),
	})
}

func writeServiceResponse(c *gin.Context, resp models.ServiceResponse) {
	code := http.StatusOK
	if !resp.Success {
		code = http.StatusInternalServerError
	}
	c.JSON(code, resp)
}

func (s *Server) handleCurrentWindow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"window": s.deps.Windows.CurrentWindow()})
}

func (s *Server) handleWindowStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Windows.Stats())
}

func (s *Server) handleSwitchHistory(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.deps.Windows.SwitchHistory(limit))
}

func (s *Server) handleSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Windows.Sessions())
}

func (s *Server) handleAppUsage(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Windows.AppUsage())
}

func (s *Server) handleListDays(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 30)
	if !ok {
		return
	}
	days, err := s.deps.Logs.ListDays(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if days == nil {
		days = []storage.DayCount{}
	}
	c.JSON(http.StatusOK, days)
}

// handleGetLogsByDate 某一天的活动日志，date 为 2006-01-02 或 today
func (s *Server) handleGetLogsByDate(c *gin.Context) {
	date := c.Param("date")
	if date == "today" {
		date = utils.DayKey(time.Now())
	}
	if _, err := time.Parse(utils.DayLayout, date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "日期格式错误，应为 YYYY-MM-DD"})
		return
	}

	logs, err := s.deps.Logs.LoadDay(date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"date":  date,
		"count": len(logs),
		"logs":  logs,
	})
}

func (s *Server) handleGetStorageStats(c *gin.Context) {
	stats, err := s.deps.Logs.GetStorageStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("参数 %s 必须为整数", key)})
		return 0, false
	}
	return n, true
}

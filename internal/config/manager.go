package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"ScreenLogAI/pkg/logger"
	"ScreenLogAI/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 SCREENLOG_AI_API_KEY
const EnvPrefix = "SCREENLOG"

// reloadDebounce 编辑器保存时往往触发多次写事件
const reloadDebounce = 200 * time.Millisecond

// Manager 配置管理器
type Manager struct {
	config     *models.AppConfig // 叠加环境变量后的生效配置
	file       *models.AppConfig // 仅来自配置文件，保存时写回这一层
	configPath string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器，配置文件不存在时写入默认配置
func NewManager(configPath string) (*Manager, error) {
	m := &Manager{
		configPath: configPath,
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		m.file = models.DefaultConfig()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	file, cfg, err := loadLayers(configPath)
	if err != nil {
		return nil, err
	}
	m.file, m.config = file, cfg
	return m, nil
}

// NewStaticManager 使用给定配置创建管理器，不读写磁盘（测试与一次性命令使用）
func NewStaticManager(cfg *models.AppConfig) *Manager {
	return &Manager{config: cfg, file: cloneConfig(cfg)}
}

// Load 读取配置文件并叠加默认值和环境变量
func Load(path string) (*models.AppConfig, error) {
	_, cfg, err := loadLayers(path)
	return cfg, err
}

// loadLayers 返回仅含文件与默认值的配置，以及叠加环境变量后的生效配置
func loadLayers(path string) (file, effective *models.AppConfig, err error) {
	v := viper.New()
	v.SetConfigType(configType(path))

	defaults, err := toMap(models.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return nil, nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	file = &models.AppConfig{}
	if err := v.Unmarshal(file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 兼容旧版本使用的环境变量
	_ = v.BindEnv("ai.api_key", EnvPrefix+"_AI_API_KEY", "SILICONFLOW_API_KEY")
	_ = v.BindEnv("ai.model", EnvPrefix+"_AI_MODEL", "SILICONFLOW_MODEL")
	_ = v.BindEnv("ai.prompt", EnvPrefix+"_AI_PROMPT", "SCREEN_ANALYSIS_PROMPT")
	_ = v.BindEnv("capture.interval", EnvPrefix+"_CAPTURE_INTERVAL", "SCREENSHOT_INTERVAL_SECONDS")
	_ = v.BindEnv("storage.screenshots_dir", EnvPrefix+"_STORAGE_SCREENSHOTS_DIR", "SCREENSHOT_DIRECTORY")

	effective = &models.AppConfig{}
	if err := v.Unmarshal(effective); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return file, effective, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}

func toMap(cfg *models.AppConfig) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to convert defaults: %w", err)
	}
	return out, nil
}

// flatten 将嵌套配置展开为 "ai.api_key" 形式的键
func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

func flatMap(cfg *models.AppConfig) (map[string]interface{}, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	flatten("", m, out)
	return out, nil
}

// fileLayer 计算要写回文件的配置：被环境变量覆盖且未被修改的键保留文件中的原值
func fileLayer(file, effective, next *models.AppConfig) (*models.AppConfig, error) {
	fileFlat, err := flatMap(file)
	if err != nil {
		return nil, err
	}
	effFlat, err := flatMap(effective)
	if err != nil {
		return nil, err
	}
	nextFlat, err := flatMap(next)
	if err != nil {
		return nil, err
	}

	nested := make(map[string]interface{})
	for key, value := range nextFlat {
		if eff := effFlat[key]; !reflect.DeepEqual(eff, fileFlat[key]) && reflect.DeepEqual(value, eff) {
			value = fileFlat[key]
		}
		node := nested
		parts := strings.Split(key, ".")
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = value
	}

	data, err := json.Marshal(nested)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	out := &models.AppConfig{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to convert config: %w", err)
	}
	return out, nil
}

// save 保存配置 (内部方法,不加锁)
func (m *Manager) save() error {
	if m.configPath == "" {
		return nil
	}

	// 确保目录存在
	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(m.file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.Info("配置已保存到: %s", m.configPath)
	return nil
}

// Save 保存配置 (公共方法,加锁)
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.save()
}

// Path 配置文件路径
func (m *Manager) Path() string {
	return m.configPath
}

// Get 获取配置（只读副本）
func (m *Manager) Get() *models.AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneConfig(m.config)
}

func cloneConfig(cfg *models.AppConfig) *models.AppConfig {
	c := *cfg
	c.Schedule.WorkDays = append([]int(nil), cfg.Schedule.WorkDays...)
	c.AI.RetryDelays = append([]int(nil), cfg.AI.RetryDelays...)
	return &c
}

// Update 更新配置，环境变量提供的值不会写入配置文件
func (m *Manager) Update(updater func(*models.AppConfig)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := cloneConfig(m.config)
	updater(next)

	file, err := fileLayer(m.file, m.config, next)
	if err != nil {
		return err
	}

	prevFile, prevConfig := m.file, m.config
	m.file, m.config = file, next
	if err := m.save(); err != nil { // 使用内部 save() 方法,避免重复加锁
		m.file, m.config = prevFile, prevConfig
		return err
	}
	return nil
}

// Reload 重新读取配置文件，返回旧配置与新配置
func (m *Manager) Reload() (old, current *models.AppConfig, err error) {
	file, cfg, err := loadLayers(m.configPath)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	old = m.config
	m.file, m.config = file, cfg
	m.mu.Unlock()

	return cloneConfig(old), cloneConfig(cfg), nil
}

// Watch 监听配置文件变化，变化后重新加载并回调 onChange，ctx 结束时停止
func (m *Manager) Watch(ctx context.Context, onChange func(old, current *models.AppConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// 监听目录而不是文件本身，编辑器常用 rename 方式保存
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	target := filepath.Clean(m.configPath)

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(reloadDebounce, func() {
					if ctx.Err() != nil {
						return
					}
					old, current, err := m.Reload()
					if err != nil {
						logger.Warn("⚠️ 重新加载配置失败: %v", err)
						return
					}
					logger.Info("🔄 配置文件已重新加载: %s", m.configPath)
					onChange(old, current)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("⚠️ 配置监听错误: %v", err)
			}
		}
	}()

	return nil
}

// GetCapture 获取截屏配置
func (m *Manager) GetCapture() models.CaptureConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Capture
}

// GetSchedule 获取工作时间配置
func (m *Manager) GetSchedule() models.WorkSchedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.config.Schedule
	s.WorkDays = append([]int(nil), s.WorkDays...)
	return s
}

// GetAI 获取 AI 配置
func (m *Manager) GetAI() models.AIConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a := m.config.AI
	a.RetryDelays = append([]int(nil), a.RetryDelays...)
	return a
}

// GetStorage 获取存储配置
func (m *Manager) GetStorage() models.StorageConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Storage
}

// GetControl 获取控制通道配置
func (m *Manager) GetControl() models.ControlConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Control
}

// GetServer 获取服务器配置
func (m *Manager) GetServer() models.ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Server
}

// Fingerprint 当前配置的指纹
func (m *Manager) Fingerprint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Fingerprint(m.config)
}

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu        sync.RWMutex
	sugared   *zap.SugaredLogger
	logFile   *os.File
	debugMode bool
)

// Init 初始化日志系统
// debug: 是否为调试模式(同时输出到控制台和文件)
func Init(logsDir string, debug bool) error {
	// 确保日志目录存在
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	// 创建日志文件(按日期)
	logFileName := fmt.Sprintf("screenlog_%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(logsDir, logFileName)

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	fileEncoder := zap.NewProductionEncoderConfig()
	fileEncoder.EncodeTime = zapcore.ISO8601TimeEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoder), zapcore.AddSync(f), level),
	}

	if debug {
		// 调试模式: 同时输出到控制台
		consoleEncoder := zap.NewDevelopmentEncoderConfig()
		if isatty.IsTerminal(os.Stdout.Fd()) {
			consoleEncoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoder), zapcore.Lock(os.Stdout), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	mu.Lock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	sugared = l.Sugar()
	debugMode = debug
	mu.Unlock()

	Info("日志系统初始化完成,日志文件: %s, 调试模式: %v", logPath, debug)
	return nil
}

// SetLogger 替换底层 logger，主要用于测试（zaptest / observer）
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	sugared = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Close 关闭日志文件
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if sugared != nil {
		_ = sugared.Sync()
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// With 返回带结构化字段的 logger，未初始化时返回 nop
func With(kv ...interface{}) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugared == nil {
		return zap.NewNop().Sugar()
	}
	return sugared.Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(kv...)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// Info 信息日志
func Info(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.Infof(format, v...)
	} else {
		// 如果日志系统未初始化,输出到控制台
		fmt.Printf("[INFO] "+format+"\n", v...)
	}
}

// Warn 警告日志
func Warn(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.Warnf(format, v...)
	} else {
		fmt.Printf("[WARN] "+format+"\n", v...)
	}
}

// Error 错误日志
func Error(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.Errorf(format, v...)
	} else {
		fmt.Printf("[ERROR] "+format+"\n", v...)
	}
}

// Debug 调试日志
func Debug(format string, v ...interface{}) {
	if l := current(); l != nil {
		l.Debugf(format, v...)
	} else if debugMode {
		fmt.Printf("[DEBUG] "+format+"\n", v...)
	}
}
